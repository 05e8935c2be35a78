package controller

import (
	"meetpact/core/constants"
	"meetpact/core/controller"
	"meetpact/core/errors"
	"meetpact/core/utils"
	"meetpact/modules/agent/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// AgentController handles agent exchange HTTP requests
type AgentController struct {
	controller.BaseController
	AgentService service.AgentServiceInterface
}

func NewAgentController(svc service.AgentServiceInterface) *AgentController {
	return &AgentController{
		BaseController: controller.NewBaseController(),
		AgentService:   svc,
	}
}

func (c *AgentController) getUserIDFromContext(ctx echo.Context) (uuid.UUID, error) {
	tokenData := ctx.Get(constants.ContextTokenData)
	if tokenData == nil {
		return uuid.Nil, errors.NewAppError(errors.ErrUnauthorized, "User not authenticated", nil)
	}

	claims, ok := tokenData.(*utils.TokenClaims)
	if !ok {
		return uuid.Nil, errors.NewAppError(errors.ErrUnauthorized, "Invalid token data", nil)
	}

	return claims.UserID, nil
}

// ListMessages handles GET /negotiations/:id/agent/messages
// @Summary List the agent exchange log for a negotiation
// @Tags Agent
// @Security BearerAuth
// @Produce json
// @Param id path string true "Negotiation ID"
// @Success 200 {array} dto.AgentMessageResponse
// @Router /private/negotiations/{id}/agent/messages [get]
func (c *AgentController) ListMessages(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	result, appErr := c.AgentService.ListMessages(ctx.Request().Context(), ctx.Param("id"), userID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Success")
}

// ConfirmFinalize handles POST /negotiations/:id/agent/confirm
// @Summary Confirm a held agent finalize
// @Tags Agent
// @Security BearerAuth
// @Produce json
// @Param id path string true "Negotiation ID"
// @Success 200 {object} dto.NegotiationResponse
// @Router /private/negotiations/{id}/agent/confirm [post]
func (c *AgentController) ConfirmFinalize(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	result, appErr := c.AgentService.ConfirmFinalize(ctx.Request().Context(), ctx.Param("id"), userID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Finalize confirmed")
}

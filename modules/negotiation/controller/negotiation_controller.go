package controller

import (
	"meetpact/core/constants"
	"meetpact/core/controller"
	"meetpact/core/errors"
	"meetpact/core/utils"
	"meetpact/modules/negotiation/dto"
	"meetpact/modules/negotiation/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// NegotiationController handles negotiation HTTP requests
type NegotiationController struct {
	controller.BaseController
	NegotiationService service.NegotiationServiceInterface
}

func NewNegotiationController(svc service.NegotiationServiceInterface) *NegotiationController {
	return &NegotiationController{
		BaseController:     controller.NewBaseController(),
		NegotiationService: svc,
	}
}

// getUserIDFromContext extracts user ID from JWT context
func (c *NegotiationController) getUserIDFromContext(ctx echo.Context) (uuid.UUID, error) {
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

// Create handles POST /negotiations
// @Summary Create a negotiation
// @Tags Negotiation
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.CreateNegotiationRequest true "Negotiation"
// @Success 200 {object} dto.NegotiationResponse
// @Router /private/negotiations [post]
func (c *NegotiationController) Create(ctx echo.Context) error {
	ownerID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	var req dto.CreateNegotiationRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid request body")
	}

	result, appErr := c.NegotiationService.Create(ctx.Request().Context(), ownerID, &req)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Negotiation created successfully")
}

// Reply handles POST /negotiations/:id/reply
// @Summary Reply to a negotiation (accept, reject or counter)
// @Tags Negotiation
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Negotiation ID"
// @Param request body dto.ReplyRequest true "Reply"
// @Success 200 {object} dto.NegotiationResponse
// @Router /private/negotiations/{id}/reply [post]
func (c *NegotiationController) Reply(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	var req dto.ReplyRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid request body")
	}

	result, appErr := c.NegotiationService.Reply(ctx.Request().Context(), ctx.Param("id"), userID, &req)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Reply recorded")
}

// Get handles GET /negotiations/:id
// @Summary Get one negotiation
// @Tags Negotiation
// @Security BearerAuth
// @Produce json
// @Param id path string true "Negotiation ID"
// @Success 200 {object} dto.NegotiationResponse
// @Router /private/negotiations/{id} [get]
func (c *NegotiationController) Get(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	result, appErr := c.NegotiationService.Get(ctx.Request().Context(), ctx.Param("id"), userID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Success")
}

// List handles GET /negotiations
// @Summary List negotiations the caller participates in
// @Tags Negotiation
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.PaginatedNegotiationResponse
// @Router /private/negotiations [get]
func (c *NegotiationController) List(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	var q dto.ListNegotiationsQuery
	if err := ctx.Bind(&q); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid query parameters")
	}

	result, appErr := c.NegotiationService.List(ctx.Request().Context(), userID, &q)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Success")
}

// Cancel handles POST /negotiations/:id/cancel
// @Summary Cancel a negotiation (organizer only)
// @Tags Negotiation
// @Security BearerAuth
// @Produce json
// @Param id path string true "Negotiation ID"
// @Success 200 {object} dto.NegotiationResponse
// @Router /private/negotiations/{id}/cancel [post]
func (c *NegotiationController) Cancel(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	result, appErr := c.NegotiationService.Cancel(ctx.Request().Context(), ctx.Param("id"), userID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Negotiation cancelled")
}

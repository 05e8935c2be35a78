package controller

import (
	"meetpact/core/constants"
	"meetpact/core/controller"
	"meetpact/core/errors"
	"meetpact/core/utils"
	"meetpact/modules/channel/dto"
	"meetpact/modules/channel/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ChannelController handles agent key management HTTP requests
type ChannelController struct {
	controller.BaseController
	ChannelService service.ChannelServiceInterface
}

func NewChannelController(svc service.ChannelServiceInterface) *ChannelController {
	return &ChannelController{
		BaseController: controller.NewBaseController(),
		ChannelService: svc,
	}
}

func (c *ChannelController) getUserIDFromContext(ctx echo.Context) (uuid.UUID, error) {
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

// GetPublicKey handles GET /agent/key
// @Summary Get the caller's active agent public key
// @Tags Channel
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.PublicKeyResponse
// @Router /private/agent/key [get]
func (c *ChannelController) GetPublicKey(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	result, appErr := c.ChannelService.GetPublicKey(ctx.Request().Context(), userID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Success")
}

// RotateKey handles POST /agent/key/rotate
// @Summary Rotate the caller's agent key pair
// @Tags Channel
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.RotateKeyRequest false "Rotation options"
// @Success 200 {object} dto.PublicKeyResponse
// @Router /private/agent/key/rotate [post]
func (c *ChannelController) RotateKey(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	var req dto.RotateKeyRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid request body")
	}

	result, appErr := c.ChannelService.RotateKey(ctx.Request().Context(), userID, &req)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Key rotated")
}

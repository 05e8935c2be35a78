package controller

import (
	"meetpact/core/constants"
	"meetpact/core/controller"
	"meetpact/core/errors"
	"meetpact/core/utils"
	"meetpact/modules/preference/dto"
	"meetpact/modules/preference/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// PreferenceController handles agent preference HTTP requests
type PreferenceController struct {
	controller.BaseController
	PreferenceService service.PreferenceServiceInterface
}

func NewPreferenceController(svc service.PreferenceServiceInterface) *PreferenceController {
	return &PreferenceController{
		BaseController:    controller.NewBaseController(),
		PreferenceService: svc,
	}
}

func (c *PreferenceController) getUserIDFromContext(ctx echo.Context) (uuid.UUID, error) {
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

// Get handles GET /preferences
// @Summary Get the caller's agent preferences
// @Tags Preference
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.PreferencesResponse
// @Router /private/preferences [get]
func (c *PreferenceController) Get(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	result, appErr := c.PreferenceService.GetPreferences(ctx.Request().Context(), userID)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Success")
}

// UpdateAutonomy handles PUT /preferences/autonomy
// @Summary Update autonomy settings
// @Tags Preference
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.UpdateAutonomyRequest true "Autonomy settings"
// @Success 200 {object} dto.PreferencesResponse
// @Router /private/preferences/autonomy [put]
func (c *PreferenceController) UpdateAutonomy(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	var req dto.UpdateAutonomyRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid request body")
	}

	result, appErr := c.PreferenceService.UpdateAutonomy(ctx.Request().Context(), userID, &req)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Autonomy settings updated")
}

// UpdateVetoRules handles PUT /preferences/veto-rules
// @Summary Replace the caller's veto rules
// @Tags Preference
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.UpdateVetoRulesRequest true "Veto rules"
// @Success 200 {object} dto.PreferencesResponse
// @Router /private/preferences/veto-rules [put]
func (c *PreferenceController) UpdateVetoRules(ctx echo.Context) error {
	userID, err := c.getUserIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "User not authenticated")
	}

	var req dto.UpdateVetoRulesRequest
	if err := ctx.Bind(&req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid request body")
	}

	result, appErr := c.PreferenceService.UpdateVetoRules(ctx.Request().Context(), userID, &req)
	if appErr != nil {
		return c.ErrorResponse(ctx, appErr)
	}

	return c.SuccessResponse(ctx, result, "Veto rules updated")
}

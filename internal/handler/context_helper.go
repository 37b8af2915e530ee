package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/middleware"
	"github.com/noah-isme/peer-eval-api/internal/models"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
)

// Cookies names the cookies the API reads and writes.
type Cookies struct {
	Session   middleware.SessionCookie
	Device    string
	DeviceTTL time.Duration
}

func principalFromContext(c *gin.Context) (models.Principal, error) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		return models.Principal{}, appErrors.ErrUnauthorized
	}
	return principal, nil
}

func bindError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

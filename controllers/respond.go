package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"storefront/logging"
	"storefront/middleware"
	"storefront/models"
	"storefront/services"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var registerOnce sync.Once

// RegisterValidators installs the custom binding rules and reports fields by
// their JSON names. Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("notblank", validators.NotBlank)
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// respondError writes the status and {message} body for err. Errors that are
// not the client's fault are logged and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		logging.FromContext(c.Request.Context()).Error("request_failed",
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"message": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"message": err.Error()})
}

func statusFor(err error) int {
	var (
		empty    services.EmptyCartError
		product  *services.ProductNotFoundError
		stock    *services.InsufficientStockError
		qty      *services.InvalidQuantityError
		pay      services.PaymentVerificationError
		state    *services.InvalidStateError
		notFound *services.NotFoundError
		invalid  *services.ValidationError
	)
	switch {
	case errors.As(err, &product), errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &empty), errors.As(err, &stock), errors.As(err, &qty),
		errors.As(err, &pay), errors.As(err, &state), errors.As(err, &invalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// bindJSON binds the request body and answers 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": bindMessage(err)})
		return false
	}
	return true
}

func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func objectIDParam(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		respondError(c, &services.ValidationError{Field: name, Message: "invalid id"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func principal(c *gin.Context) (models.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Token required"})
	}
	return p, ok
}

package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidatorConfig holds validation configuration
type ValidatorConfig struct {
	MaxBodySize       int64 // Maximum request body size in bytes
	MaxResourceIDLen  int   // Maximum resource identifier length
	MaxHolderIDLen    int   // Maximum holder identifier length
}

// DefaultValidatorConfig returns safe defaults
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:      1 << 20, // 1MB
		MaxResourceIDLen: 256,
		MaxHolderIDLen:   256,
	}
}

// identPattern restricts identifiers to the charset fleet nodes actually
// use (camera IDs like "cam-42", node IDs like "recorder-node-3").
var identPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]*$`)

// Validator performs request field validation
type Validator struct {
	config ValidatorConfig
}

// NewValidator creates a new validator with the given config
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// ValidateResourceID checks a resource identifier
func (v *Validator) ValidateResourceID(id string) error {
	if len(id) == 0 {
		return &FieldError{Field: "resource_id", Message: "resource_id is required"}
	}
	if len(id) > v.config.MaxResourceIDLen {
		return &FieldError{Field: "resource_id", Message: "resource_id exceeds maximum length"}
	}
	if !identPattern.MatchString(id) {
		return &FieldError{Field: "resource_id", Message: "resource_id contains invalid characters"}
	}
	return nil
}

// ValidateHolderID checks a holder identifier
func (v *Validator) ValidateHolderID(id string) error {
	if len(id) == 0 {
		return &FieldError{Field: "holder_id", Message: "holder_id is required"}
	}
	if len(id) > v.config.MaxHolderIDLen {
		return &FieldError{Field: "holder_id", Message: "holder_id exceeds maximum length"}
	}
	if !identPattern.MatchString(id) {
		return &FieldError{Field: "holder_id", Message: "holder_id contains invalid characters"}
	}
	return nil
}

// FieldError represents a validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimitMiddleware limits request body size
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")
		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")
		// Enable XSS filter
		c.Header("X-XSS-Protection", "1; mode=block")

		c.Next()
	}
}

// RequestIDMiddleware adds request ID for tracing
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

package middleware

import (
	"fin_quiz_backend/internal/model"
	"fin_quiz_backend/internal/util"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(userID uint, email string, role model.UserRole, secret string, ttl time.Duration) (string, error) {
	claims := &util.Claims{
		UserID: userID,
		Role:   role,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", AuthMiddleware(testSecret), func(c *gin.Context) {
		claims := util.GetUserFromContext(c)
		c.JSON(http.StatusOK, gin.H{"userId": claims.UserID, "email": claims.Email})
	})
	r.GET("/admin", AuthMiddleware(testSecret), RoleMiddleware(model.Admin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := authRouter()

	token, err := signToken(5, "ana@example.com", model.Member, testSecret, time.Hour)
	require.NoError(t, err)

	w := get(r, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":5,"email":"ana@example.com"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", "garbage").Code)

	wrong, err := signToken(5, "ana@example.com", model.Member, "another-secret", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", wrong).Code)

	expired, err := signToken(5, "ana@example.com", model.Member, testSecret, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", expired).Code)
}

func TestAuthMiddleware_RejectsOtherAlgorithms(t *testing.T) {
	r := authRouter()

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &util.Claims{UserID: 5})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", signed).Code)
}

func TestRoleMiddleware(t *testing.T) {
	r := authRouter()

	member, err := signToken(5, "ana@example.com", model.Member, testSecret, time.Hour)
	require.NoError(t, err)
	admin, err := signToken(1, "root@example.com", model.Admin, testSecret, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, get(r, "/admin", member).Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/admin", admin).Code)
}

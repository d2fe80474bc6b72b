package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"codecollab/internal/auth"
)

var testSecret = []byte("test-secret")

func identityRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", Identity(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"userId":      c.GetString("userId"),
			"displayName": c.GetString("displayName"),
			"anonymous":   c.GetBool("anonymous"),
		})
	})
	return r
}

func TestIdentity_BearerToken(t *testing.T) {
	token, err := auth.SignAccessToken(testSecret, "u-42", "Amy", time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	identityRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"userId":"u-42"`) || !strings.Contains(body, `"anonymous":false`) {
		t.Fatalf("body = %s", body)
	}
}

func TestIdentity_QueryTokenFallback(t *testing.T) {
	token, err := auth.SignAccessToken(testSecret, "u-42", "Amy", time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil)
	w := httptest.NewRecorder()
	identityRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"userId":"u-42"`) {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestIdentity_MintsAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	identityRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"anonymous":true`) || !strings.Contains(body, `"userId":"anon-`) {
		t.Fatalf("body = %s", body)
	}
	if !strings.Contains(body, `"displayName":"Guest-`) {
		t.Fatalf("body = %s", body)
	}
}

func TestIdentity_RejectsBadToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	identityRouter().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "UNAUTHENTICATED") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

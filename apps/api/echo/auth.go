package echoapi

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/user"
)

const (
	contextTokenKey = "userToken"
	contextUserKey  = "user"
	jwtAudience     = "Gakuten"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	IsStudent bool   `json:"is_student,omitempty"` // -> STUDENT PORTAL
	IsCompany bool   `json:"is_company,omitempty"` // -> COMPANY PORTAL
	IsAdmin   bool   `json:"is_admin,omitempty"`   // -> ADMIN PORTAL
}

type authenticator struct {
	appName    string
	signingKey []byte
	expiration time.Duration
}

func newAuthenticator(conf *core.Config) *authenticator {
	return &authenticator{
		appName:    conf.AppName,
		signingKey: []byte(conf.SecretKey),
		expiration: conf.Auth.JWTExpirationDelta,
	}
}

// middleware returns the JWT auth middleware. lookup is echo's TokenLookup, e.g. "query:token".
func (a *authenticator) middleware(lookup string) echo.MiddlewareFunc {
	conf := middleware.JWTConfig{
		SigningKey:    a.signingKey,
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    contextTokenKey,
		Claims:        new(Claims),
	}
	if lookup != "" {
		conf.TokenLookup = lookup
	}
	return middleware.JWTWithConfig(conf)
}

func (a *authenticator) userClaims(usr user.User) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    a.appName,
			Subject:   usr.ID,
			Audience:  jwtAudience,
			ExpiresAt: now.Add(a.expiration).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username:  usr.Username,
		Email:     usr.Email,
		Role:      usr.Role,
		IsStudent: usr.IsStudent(),
		IsCompany: usr.IsCompany(),
		IsAdmin:   usr.IsAdmin(),
	}
}

// token generates a signed JWT token string representing the user Claims.
func (a *authenticator) token(usr user.User) (string, error) {
	method := jwt.GetSigningMethod(middleware.AlgorithmHS256)
	ss, err := jwt.NewWithClaims(method, a.userClaims(usr)).SignedString(a.signingKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// getContextUser loads the authenticated user once per request. Deactivated accounts are refused.
func getContextUser(ctx echo.Context, svc user.ServiceInterface) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return user.User{}, err
	}

	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return user.User{}, errAccountDeactivated
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

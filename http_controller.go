package iamclient

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
	"github.com/juniyasyos/go-iam-client/middleware/signature"
)

// IAMControllerRoutes holds the mount points of the SSO surface. Guard
// variants hang off each path as an extra segment.
type IAMControllerRoutes struct {
	Login        string
	Callback     string
	Logout       string
	FrontChannel string
	BackChannel  string
	SyncRoles    string
	SyncUsers    string
}

// IAMControllerViews names the templates used by the HTML responses.
type IAMControllerViews struct {
	Error string
}

type IAMController struct {
	Debug         bool
	Logger        Logger
	Config        Config
	Repo          RepositoryManager
	Store         SessionStore
	Authenticator *SessionAuthenticator
	Coordinator   *LogoutCoordinator
	Routes        *IAMControllerRoutes
	Views         *IAMControllerViews
	ErrorHandler  router.ErrorHandler
}

type IAMControllerOption func(*IAMController) *IAMController

func WithControllerConfig(cfg Config) IAMControllerOption {
	return func(c *IAMController) *IAMController {
		c.Config = cfg
		return c
	}
}

func WithControllerLogger(logger Logger) IAMControllerOption {
	return func(c *IAMController) *IAMController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) IAMControllerOption {
	return func(c *IAMController) *IAMController {
		c.Repo = repo
		return c
	}
}

func WithControllerStore(store SessionStore) IAMControllerOption {
	return func(c *IAMController) *IAMController {
		c.Store = store
		return c
	}
}

func WithControllerAuthenticator(auth *SessionAuthenticator) IAMControllerOption {
	return func(c *IAMController) *IAMController {
		c.Authenticator = auth
		return c
	}
}

func WithControllerCoordinator(coordinator *LogoutCoordinator) IAMControllerOption {
	return func(c *IAMController) *IAMController {
		c.Coordinator = coordinator
		return c
	}
}

func NewIAMController(opts ...IAMControllerOption) *IAMController {
	c := &IAMController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Config:       DefaultConfig(),
		Routes: &IAMControllerRoutes{
			Login:        "/sso/login",
			Callback:     "/sso/callback",
			Logout:       "/logout",
			FrontChannel: "/iam/logout",
			BackChannel:  "/iam/backchannel-logout",
			SyncRoles:    "/iam/sync/roles",
			SyncUsers:    "/iam/sync/users",
		},
		Views: &IAMControllerViews{
			Error: "iam_error",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Store == nil {
		panic("Missing SessionStore in IAM controller...")
	}

	if c.Authenticator == nil {
		panic("Missing SessionAuthenticator in IAM controller...")
	}

	if c.Coordinator == nil {
		c.Coordinator = NewLogoutCoordinator(c.Config, c.Store).WithLogger(c.Logger)
	}

	return c
}

func RegisterIAMRoutes[T any](app router.Router[T], opts ...IAMControllerOption) *IAMController {
	controller := NewIAMController(opts...)
	routes := controller.Routes

	app.Get(routes.Login, controller.LoginRedirect).
		SetName("iam.login")
	app.Get(fmt.Sprintf("%s/:guard", routes.Login), controller.LoginRedirect).
		SetName("iam.login.guard")

	app.Get(routes.Callback, controller.Callback).
		SetName("iam.callback")
	app.Post(routes.Callback, controller.Callback).
		SetName("iam.callback.post")
	app.Get(fmt.Sprintf("%s/:guard", routes.Callback), controller.Callback).
		SetName("iam.callback.guard")
	app.Post(fmt.Sprintf("%s/:guard", routes.Callback), controller.Callback).
		SetName("iam.callback.guard.post")

	app.Get(routes.Logout, controller.Logout).
		SetName("iam.logout")
	app.Get(fmt.Sprintf("%s/:guard", routes.Logout), controller.Logout).
		SetName("iam.logout.guard")

	app.Get(routes.FrontChannel, controller.FrontChannelLogout).
		SetName("iam.logout.front")

	verify := signature.New(signature.Config{
		Secret:     []byte(controller.backchannelSecret()),
		HeaderName: controller.Config.BackchannelSignatureHeader,
		Method:     controller.Config.BackchannelMethod,
	})
	app.Post(routes.BackChannel, verify(controller.BackChannelLogout)).
		SetName("iam.logout.back")

	app.Get(routes.SyncRoles, verify(controller.SyncRoles)).
		SetName("iam.sync.roles")
	app.Get(routes.SyncUsers, verify(controller.SyncUsers)).
		SetName("iam.sync.users")

	return controller
}

func (a *IAMController) backchannelSecret() string {
	if a.Config.BackchannelSecret != "" {
		return a.Config.BackchannelSecret
	}
	return a.Config.JWTSecret
}

func (a *IAMController) guardFromRoute(ctx router.Context) string {
	return ctx.Param("guard", fallback(a.Config.Guard, DefaultGuard))
}

func (a *IAMController) session(ctx router.Context) (*SessionRecord, error) {
	return loadSession(ctx, a.Config, a.Store)
}

// LoginRedirect sends the browser to the IAM host with this app's key and
// the absolute callback url for the guard.
func (a *IAMController) LoginRedirect(ctx router.Context) error {
	guard := a.guardFromRoute(ctx)
	profile := ResolveGuard(a.Config, guard)

	callback := a.callbackURL(ctx, guard)
	target := fmt.Sprintf("%s/sso/redirect?app=%s&callback=%s",
		trimBase(a.Config.BaseURL),
		url.QueryEscape(a.Config.AppKey),
		url.QueryEscape(callback),
	)

	a.Logger.Debug("redirecting guard %q to IAM login at %s", profile.GuardName, target)
	return ctx.Redirect(target, fiber.StatusFound)
}

func (a *IAMController) callbackURL(ctx router.Context, guard string) string {
	path := GuardPath(a.Routes.Callback, guard)
	scheme := "https"
	if proto := ctx.Header("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := ctx.Header("Host")
	if host == "" {
		return path
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

// Callback receives the token the IAM host issues after upstream login and
// establishes the local session. Rejected tokens render an error page;
// bouncing back to the login route would just loop.
func (a *IAMController) Callback(ctx router.Context) error {
	guard := a.guardFromRoute(ctx)

	raw := ctx.Query("access_token", "")
	if raw == "" {
		raw = ctx.Query("token", "")
	}

	if raw == "" {
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Missing authentication token",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Error, router.ViewContext{
			"message": "The identity provider did not return a token.",
		})
	}

	sess, err := a.session(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	result, err := a.Authenticator.LoginWithToken(ctx.Context(), sess, raw, guard)
	if err != nil {
		a.Logger.Error("callback rejected token %s: %v", TokenPreview(raw), err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Authentication failed",
		}).Status(fiber.StatusForbidden).Render(a.Views.Error, router.ViewContext{
			"message": rejectionMessage(err),
		})
	}

	writeSessionCookie(ctx, a.Config, sess)

	redirect := sess.PullIntendedURL()
	if redirect == "" {
		profile := ResolveGuard(a.Config, guard)
		redirect = fallback(a.Config.DefaultRedirect, profile.RedirectRoute)
	}
	if err := a.Store.Save(ctx.Context(), sess); err != nil {
		a.Logger.Warn("failed to persist session after callback: %v", err)
	}

	a.Logger.Info("authenticated user %s on guard %q", result.User.ID, result.Guard)
	return ctx.Redirect(redirect, fiber.StatusSeeOther)
}

func rejectionMessage(err error) string {
	switch {
	case IsInvalidToken(err):
		return "Your sign-in link is invalid or has expired."
	case IsProvisioningError(err):
		return "This account cannot be used with this application."
	case IsRolePolicyError(err):
		return "Your account does not have access to this application."
	case IsUpstreamError(err):
		return "The identity provider is unavailable. Try again shortly."
	default:
		return "Authentication failed."
	}
}

// Logout ends the local session for the guard.
func (a *IAMController) Logout(ctx router.Context) error {
	guard := a.guardFromRoute(ctx)

	sess, err := a.session(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	redirect, err := a.Coordinator.Logout(ctx.Context(), sess, guard)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	writeSessionCookie(ctx, a.Config, sess)
	return ctx.Redirect(redirect, fiber.StatusSeeOther)
}

// FrontChannelLogout handles the browser redirect from the IAM host after
// an upstream sign-out.
func (a *IAMController) FrontChannelLogout(ctx router.Context) error {
	guard := ctx.Query("guard", fallback(a.Config.Guard, DefaultGuard))

	sess, err := a.session(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	redirect, err := a.Coordinator.FrontChannelLogout(ctx.Context(), sess, guard, ctx.Query("post_logout_redirect", ""))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	writeSessionCookie(ctx, a.Config, sess)
	return ctx.Redirect(redirect, fiber.StatusSeeOther)
}

// BackChannelLogout accepts the signed server-to-server logout
// notification. The signature middleware runs before this handler; by the
// time we are here the payload is authentic.
func (a *IAMController) BackChannelLogout(ctx router.Context) error {
	if a.Repo == nil {
		return ctx.JSON(fiber.StatusOK, map[string]any{"ok": true})
	}

	msg := BackchannelLogoutMessage{}
	if err := ctx.Bind(&msg); err != nil {
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"message": "invalid payload",
		})
	}

	handler := NewBackchannelLogoutHandler(a.Config, a.Repo).
		WithLogger(a.Logger)

	if err := handler.Execute(ctx.Context(), msg); err != nil {
		a.Logger.Error("backchannel logout failed: %v", err)
		return ctx.JSON(fiber.StatusBadRequest, map[string]string{
			"message": "invalid payload",
		})
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{"ok": true})
}

// SyncRoles exposes this app's role catalog to the IAM host.
func (a *IAMController) SyncRoles(ctx router.Context) error {
	if a.Repo == nil || !a.Repo.Settings().SyncRolesEnabled(ctx.Context(), a.Config.SyncRolesEnabled) {
		return ctx.JSON(fiber.StatusForbidden, map[string]string{
			"message": "role sync disabled",
		})
	}

	records, total, err := a.Repo.Roles().ListAll(ctx.Context())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	names := make([]string, 0, len(records))
	for _, role := range records {
		names = append(names, role.Name)
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"app_key": a.Config.AppKey,
		"roles":   names,
		"total":   total,
	})
}

// SyncUsers exposes provisioned users to the IAM host.
func (a *IAMController) SyncUsers(ctx router.Context) error {
	if a.Repo == nil || !a.Repo.Settings().SyncUsersEnabled(ctx.Context(), a.Config.SyncUsersEnabled) {
		return ctx.JSON(fiber.StatusForbidden, map[string]string{
			"message": "user sync disabled",
		})
	}

	records, total, err := a.Repo.Users().ListAll(ctx.Context())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	users := make([]map[string]any, 0, len(records))
	for _, user := range records {
		users = append(users, map[string]any{
			"id":     user.FieldValue(a.Config.IdentifierField),
			"name":   user.Name,
			"email":  user.Email,
			"active": user.Active,
		})
	}

	return ctx.JSON(fiber.StatusOK, map[string]any{
		"app_key": a.Config.AppKey,
		"users":   users,
		"total":   total,
	})
}

func trimBase(base string) string {
	return strings.TrimRight(base, "/")
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}

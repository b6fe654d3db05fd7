package iamclient

import "fmt"

// DefaultGuard is the unsuffixed guard every fallback chain bottoms out at.
const DefaultGuard = "web"

// GuardProfile is the resolved configuration of one authentication context.
// Two guards never collide on route names or session keys.
type GuardProfile struct {
	// Name is the requested guard identifier ("web", "filament", ...).
	Name string
	// GuardName is the underlying auth guard to bind sessions against.
	GuardName string
	// RedirectRoute is the post-login destination.
	RedirectRoute string
	// LoginRouteName is the host application's login route name.
	LoginRouteName string
	// LogoutRedirectRoute is the post-logout destination (route name, raw
	// path fallback).
	LogoutRedirectRoute string
}

// ResolveGuard merges an explicit per-guard override onto the legacy
// single-guard defaults onto the hard-coded package defaults. The merge is
// entry by entry: a partial override only replaces the entries it sets.
// Pure function of configuration, no side effects.
func ResolveGuard(cfg Config, name string) GuardProfile {
	if name == "" {
		name = cfg.Guard
	}
	if name == "" {
		name = DefaultGuard
	}

	profile := GuardProfile{
		Name:                name,
		GuardName:           fallback(cfg.Guard, DefaultGuard),
		RedirectRoute:       fallback(cfg.DefaultRedirect, "/"),
		LoginRouteName:      fallback(cfg.LoginRouteName, "login"),
		LogoutRedirectRoute: fallback(cfg.LogoutRedirectRoute, "home"),
	}

	override, ok := cfg.Guards[name]
	if !ok {
		return profile
	}

	if override.Guard != "" {
		profile.GuardName = override.Guard
	}
	if override.RedirectRoute != "" {
		profile.RedirectRoute = override.RedirectRoute
	}
	if override.LoginRouteName != "" {
		profile.LoginRouteName = override.LoginRouteName
	}
	if override.LogoutRedirectRoute != "" {
		profile.LogoutRedirectRoute = override.LogoutRedirectRoute
	}

	return profile
}

// Route names for guard-qualified endpoints. The "web" guard keeps the bare
// name; every other guard gets a suffixed name so routes never collide.

func CallbackRouteName(guard string) string {
	return guardRouteName("iam.sso.callback", guard)
}

func LoginRouteNamePublic(guard string) string {
	return guardRouteName("iam.sso.login", guard)
}

func LogoutRouteName(guard string) string {
	return guardRouteName("iam.logout", guard)
}

func FrontChannelRouteName(guard string) string {
	return guardRouteName("iam.frontchannel", guard)
}

func guardRouteName(base, guard string) string {
	if guard == "" || guard == DefaultGuard {
		return base
	}
	return fmt.Sprintf("%s.%s", base, guard)
}

// GuardPath suffixes a base path with the guard segment for non-"web"
// guards, e.g. /sso/login -> /sso/login/filament.
func GuardPath(base, guard string) string {
	if guard == "" || guard == DefaultGuard {
		return base
	}
	return base + "/" + guard
}

// SessionNamespace is the prefix of every IAM session key belonging to a
// guard. Teardown clears only keys under this prefix, never unrelated
// application data.
func SessionNamespace(guard string) string {
	if guard == "" || guard == DefaultGuard {
		return "iam"
	}
	return "iam:" + guard
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

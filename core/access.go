package core

// ManagerToken authorizes economic parameter changes: asset listing, tier
// policy, oracle registration and oracle config.
type ManagerToken string

// BreakerToken authorizes tripping and resetting per-asset circuit breakers.
// It is deliberately distinct from ManagerToken so the emergency freeze
// capability can be held separately from parameter administration.
type BreakerToken string

type AccessController struct {
	managerToken ManagerToken
	breakerToken BreakerToken
}

func NewAccessController(managerToken ManagerToken, breakerToken BreakerToken) *AccessController {
	return &AccessController{
		managerToken: managerToken,
		breakerToken: breakerToken,
	}
}

func (ac *AccessController) RequireManager(token ManagerToken) error {
	if token == "" || token != ac.managerToken {
		return ErrUnauthorized
	}
	return nil
}

func (ac *AccessController) RequireBreaker(token BreakerToken) error {
	if token == "" || token != ac.breakerToken {
		return ErrUnauthorized
	}
	return nil
}

package gatewayfake

import (
	"context"
	"errors"
	"sync"

	"github.com/prepdeck/go-auth-client/session"
)

var _ session.Gateway = (*FakeGateway)(nil)

// FakeGateway is a scriptable Gateway double for exercising the session
// manager without a network. Each operation delegates to its Func field when
// set and fails otherwise; call counts are tracked for assertions.
type FakeGateway struct {
	LoginFunc    func(ctx context.Context, email, password string) (*session.Session, error)
	RegisterFunc func(ctx context.Context, name, email, password string) (*session.Session, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (*session.Session, error)
	LogoutFunc   func(ctx context.Context, accessToken string) error
	ExchangeFunc func(ctx context.Context, provider, code, codeVerifier string) (*session.Session, error)

	lock          sync.Mutex
	loginCalls    int
	registerCalls int
	refreshCalls  int
	logoutCalls   int
	exchangeCalls int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{}
}

func (g *FakeGateway) Login(ctx context.Context, email, password string) (*session.Session, error) {
	g.count(&g.loginCalls)
	if g.LoginFunc == nil {
		return nil, errors.New("fake gateway: Login not scripted")
	}
	return g.LoginFunc(ctx, email, password)
}

func (g *FakeGateway) Register(ctx context.Context, name, email, password string) (*session.Session, error) {
	g.count(&g.registerCalls)
	if g.RegisterFunc == nil {
		return nil, errors.New("fake gateway: Register not scripted")
	}
	return g.RegisterFunc(ctx, name, email, password)
}

func (g *FakeGateway) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	g.count(&g.refreshCalls)
	if g.RefreshFunc == nil {
		return nil, errors.New("fake gateway: Refresh not scripted")
	}
	return g.RefreshFunc(ctx, refreshToken)
}

func (g *FakeGateway) Logout(ctx context.Context, accessToken string) error {
	g.count(&g.logoutCalls)
	if g.LogoutFunc == nil {
		return nil
	}
	return g.LogoutFunc(ctx, accessToken)
}

func (g *FakeGateway) ExchangeOAuthCode(ctx context.Context, provider, code, codeVerifier string) (*session.Session, error) {
	g.count(&g.exchangeCalls)
	if g.ExchangeFunc == nil {
		return nil, errors.New("fake gateway: ExchangeOAuthCode not scripted")
	}
	return g.ExchangeFunc(ctx, provider, code, codeVerifier)
}

func (g *FakeGateway) LoginCalls() int    { return g.read(&g.loginCalls) }
func (g *FakeGateway) RegisterCalls() int { return g.read(&g.registerCalls) }
func (g *FakeGateway) RefreshCalls() int  { return g.read(&g.refreshCalls) }
func (g *FakeGateway) LogoutCalls() int   { return g.read(&g.logoutCalls) }
func (g *FakeGateway) ExchangeCalls() int { return g.read(&g.exchangeCalls) }

func (g *FakeGateway) count(field *int) {
	g.lock.Lock()
	defer g.lock.Unlock()
	*field++
}

func (g *FakeGateway) read(field *int) int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return *field
}

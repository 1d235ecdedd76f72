package mfa

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	DELETE(path string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetSessionID() string
	SetSessionID(id string)
	GetSessionToken() string
	SetSessionToken(token string)
}

// RegisterSteps registers handshake step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &mfaSteps{tc: tc}

	ctx.Step(`^I start a demo session for mobile "([^"]*)"$`, steps.startDemoSession)
	ctx.Step(`^I start a live session for mobile "([^"]*)"$`, steps.startLiveSession)
	ctx.Step(`^I save the session id$`, steps.saveSessionID)
	ctx.Step(`^the session should reach state "([^"]*)" within (\d+) seconds$`, steps.sessionReachesState)
	ctx.Step(`^I save the session token$`, steps.saveSessionToken)
	ctx.Step(`^I introspect the session token$`, steps.introspectToken)
	ctx.Step(`^I introspect with token "([^"]*)"$`, steps.introspectWithToken)
	ctx.Step(`^I cancel the session$`, steps.cancelSession)
	ctx.Step(`^I fetch the session$`, steps.fetchSession)
	ctx.Step(`^I fetch session "([^"]*)"$`, steps.fetchSessionByID)
}

type mfaSteps struct {
	tc TestContext
}

func (s *mfaSteps) startDemoSession(ctx context.Context, mobile string) error {
	return s.tc.POST("/mfa/sessions", map[string]interface{}{
		"mobile":    mobile,
		"demo_mode": true,
	})
}

func (s *mfaSteps) startLiveSession(ctx context.Context, mobile string) error {
	return s.tc.POST("/mfa/sessions", map[string]interface{}{
		"mobile":    mobile,
		"demo_mode": false,
	})
}

func (s *mfaSteps) saveSessionID(ctx context.Context) error {
	id, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.SetSessionID(fmt.Sprint(id))
	return nil
}

// sessionReachesState polls the snapshot; the token lands shortly after
// success, so a success wait also waits for it.
func (s *mfaSteps) sessionReachesState(ctx context.Context, state string, seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	var last interface{}
	for time.Now().Before(deadline) {
		if err := s.fetchSession(ctx); err != nil {
			return err
		}
		got, err := s.tc.GetResponseField("state")
		if err != nil {
			return err
		}
		last = got
		if got == state {
			if state != "success" {
				return nil
			}
			if _, err := s.tc.GetResponseField("session_token"); err == nil {
				return nil
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("session %s still %v after %ds", s.tc.GetSessionID(), last, seconds)
}

func (s *mfaSteps) saveSessionToken(ctx context.Context) error {
	token, err := s.tc.GetResponseField("session_token")
	if err != nil {
		return err
	}
	s.tc.SetSessionToken(fmt.Sprint(token))
	return nil
}

func (s *mfaSteps) introspectToken(ctx context.Context) error {
	return s.introspectWithToken(ctx, s.tc.GetSessionToken())
}

func (s *mfaSteps) introspectWithToken(ctx context.Context, token string) error {
	return s.tc.GET("/mfa/token", map[string]string{"Authorization": "Bearer " + token})
}

func (s *mfaSteps) cancelSession(ctx context.Context) error {
	return s.tc.DELETE("/mfa/sessions/" + s.tc.GetSessionID())
}

func (s *mfaSteps) fetchSession(ctx context.Context) error {
	return s.fetchSessionByID(ctx, s.tc.GetSessionID())
}

func (s *mfaSteps) fetchSessionByID(ctx context.Context, id string) error {
	return s.tc.GET("/mfa/sessions/"+id, nil)
}

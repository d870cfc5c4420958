package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
	"goldlink/internal/repository"
)

type fakeSessionRepo struct {
	unified     map[uuid.UUID]*model.UnifiedSession
	appSessions map[string]*model.AppSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		unified:     make(map[uuid.UUID]*model.UnifiedSession),
		appSessions: make(map[string]*model.AppSession),
	}
}

func sessionKey(userID uuid.UUID, app model.AppID) string {
	return userID.String() + "/" + string(app)
}

func (r *fakeSessionRepo) UpsertUnifiedSession(_ context.Context, _ repository.RepoExtension, session *model.UnifiedSession) error {
	clone := *session
	r.unified[session.UserID] = &clone

	return nil
}

func (r *fakeSessionRepo) SelectUnifiedSession(_ context.Context, _ repository.RepoExtension, userID uuid.UUID) (*model.UnifiedSession, error) {
	session, ok := r.unified[userID]
	if !ok {
		return nil, apperrors.ErrUnifiedSessionAbsent
	}

	clone := *session

	return &clone, nil
}

func (r *fakeSessionRepo) UpsertAppSession(_ context.Context, _ repository.RepoExtension, session *model.AppSession) error {
	clone := *session
	r.appSessions[sessionKey(session.UserID, session.App)] = &clone

	return nil
}

func (r *fakeSessionRepo) SelectAppSession(_ context.Context, _ repository.RepoExtension, userID uuid.UUID, app model.AppID) (*model.AppSession, error) {
	session, ok := r.appSessions[sessionKey(userID, app)]
	if !ok {
		return nil, apperrors.ErrSessionDoesNotExist
	}

	clone := *session

	return &clone, nil
}

func (r *fakeSessionRepo) SelectAppSessionByID(_ context.Context, _ repository.RepoExtension, sessionID uuid.UUID) (*model.AppSession, error) {
	for _, session := range r.appSessions {
		if session.SessionID == sessionID {
			clone := *session

			return &clone, nil
		}
	}

	return nil, apperrors.ErrSessionDoesNotExist
}

func (r *fakeSessionRepo) UpdateActivity(_ context.Context, _ repository.RepoExtension, sessionID uuid.UUID, at time.Time) error {
	for _, session := range r.appSessions {
		if session.SessionID == sessionID {
			session.LastActivity = at

			return nil
		}
	}

	return apperrors.ErrSessionDoesNotExist
}

func (r *fakeSessionRepo) DeleteAppSession(_ context.Context, _ repository.RepoExtension, userID uuid.UUID, app model.AppID) error {
	delete(r.appSessions, sessionKey(userID, app))

	return nil
}

func (r *fakeSessionRepo) SelectExpiredBatch(_ context.Context, _ repository.RepoExtension, app model.AppID, cutoff time.Time, batchSize int) ([]model.AppSession, error) {
	var expired []model.AppSession
	for _, session := range r.appSessions {
		if session.App == app && !session.LastActivity.After(cutoff) {
			expired = append(expired, *session)
		}

		if len(expired) == batchSize {
			break
		}
	}

	return expired, nil
}

type fakeTokenStore struct {
	tokens map[uuid.UUID]uuid.UUID
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[uuid.UUID]uuid.UUID)}
}

func (s *fakeTokenStore) Set(_ context.Context, sessionID, userID uuid.UUID, _ time.Duration) error {
	s.tokens[sessionID] = userID

	return nil
}

func (s *fakeTokenStore) Get(_ context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	userID, ok := s.tokens[sessionID]
	if !ok {
		return uuid.Nil, apperrors.ErrSessionExpired
	}

	return userID, nil
}

func (s *fakeTokenStore) Refresh(context.Context, uuid.UUID, time.Duration) error {
	return nil
}

func (s *fakeTokenStore) Delete(_ context.Context, sessionID uuid.UUID) error {
	delete(s.tokens, sessionID)

	return nil
}

type sentMessage struct {
	dest     model.AppID
	msgType  model.MessageType
	payload  model.Payload
	priority model.Priority
}

type fakeSender struct {
	sent []sentMessage
}

func (s *fakeSender) Send(_ context.Context, _, destApp model.AppID, messageType model.MessageType, payload model.Payload, priority model.Priority) (uuid.UUID, error) {
	s.sent = append(s.sent, sentMessage{dest: destApp, msgType: messageType, payload: payload, priority: priority})

	return uuid.New(), nil
}

type fakeFeed struct {
	pushed []model.Notification
}

func (f *fakeFeed) Push(_ context.Context, notification model.Notification) error {
	f.pushed = append(f.pushed, notification)

	return nil
}

type sessionFixture struct {
	svc    *SessionService
	repo   *fakeSessionRepo
	tokens *fakeTokenStore
	sender *fakeSender
	feed   *fakeFeed
	userID uuid.UUID
	now    time.Time
}

func newSessionFixture(t *testing.T, roles map[model.AppID]string) *sessionFixture {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	fx := &sessionFixture{
		repo:   newFakeSessionRepo(),
		tokens: newFakeTokenStore(),
		sender: &fakeSender{},
		feed:   &fakeFeed{},
		userID: uuid.New(),
		now:    time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
	}

	validate := func(_ context.Context, creds model.Credentials) (*model.Profile, error) {
		if creds.Username != "mira" || creds.Password != "open-sesame" {
			return nil, apperrors.ErrInvalidCredentials
		}

		return &model.Profile{
			UserID:   fx.userID,
			Username: creds.Username,
			Roles:    roles,
		}, nil
	}

	fx.svc = NewSessionService(
		zap.NewNop(),
		SessionConfig{
			LocalApp:        model.AppField,
			Timeout:         24 * time.Hour,
			MonitorInterval: time.Minute,
			AccessTokenTTL:  15 * time.Minute,
		},
		key,
		fx.repo,
		fx.tokens,
		fx.sender,
		fx.feed,
		validate,
		DerivePermissions,
		nil,
		nil,
	)
	fx.svc.now = func() time.Time { return fx.now }

	return fx
}

func validCreds() model.Credentials {
	return model.Credentials{Username: "mira", Password: "open-sesame"}
}

func TestAuthenticateOpensUnifiedAndAppSession(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{
		model.AppField: model.RoleFieldAgent,
		model.AppTrade: model.RoleTrader,
	})

	ctx := context.Background()

	unified, session, token, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{UserAgent: "cli"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if token == "" {
		t.Fatalf("Authenticate() returned empty access token")
	}

	if unified.PrimaryApp != model.AppField {
		t.Fatalf("primary app = %q, want %q", unified.PrimaryApp, model.AppField)
	}

	if !unified.HasAccess(model.AppTrade) {
		t.Fatalf("trader role must grant trade access")
	}

	if session.App != model.AppField || session.UserID != fx.userID {
		t.Fatalf("unexpected app session: %+v", session)
	}

	if len(session.Permissions) == 0 {
		t.Fatalf("app session carries no permission snapshot")
	}

	if _, err := fx.svc.ValidateSession(ctx, session.SessionID); err != nil {
		t.Fatalf("ValidateSession() error = %v", err)
	}

	// Login is announced to the sibling application.
	if len(fx.sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fx.sender.sent))
	}

	if sent := fx.sender.sent[0]; sent.dest != model.AppTrade || sent.msgType != model.MessageUserNotification {
		t.Fatalf("unexpected login announcement: %+v", sent)
	}
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppField: model.RoleFieldAgent})

	_, _, _, err := fx.svc.Authenticate(context.Background(),
		model.Credentials{Username: "mira", Password: "wrong"}, model.DeviceInfo{})
	if !errors.Is(err, apperrors.ErrInvalidCredentials) {
		t.Fatalf("Authenticate() error = %v, want %v", err, apperrors.ErrInvalidCredentials)
	}
}

func TestAuthenticateWithoutLocalRoleFailsClosed(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppTrade: model.RoleTrader})

	_, _, _, err := fx.svc.Authenticate(context.Background(), validCreds(), model.DeviceInfo{})
	if !errors.Is(err, apperrors.ErrNoAppPermission) {
		t.Fatalf("Authenticate() error = %v, want %v", err, apperrors.ErrNoAppPermission)
	}
}

func TestAuthenticateSupersedesPreviousSession(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppField: model.RoleFieldAgent})

	ctx := context.Background()

	_, first, _, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	_, second, _, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if first.SessionID == second.SessionID {
		t.Fatalf("second login must supersede the first session")
	}

	stored, err := fx.repo.SelectAppSession(ctx, nil, fx.userID, model.AppField)
	if err != nil {
		t.Fatalf("SelectAppSession() error = %v", err)
	}

	if stored.SessionID != second.SessionID {
		t.Fatalf("stored session = %s, want %s", stored.SessionID, second.SessionID)
	}

	if _, err := fx.svc.ValidateSession(ctx, first.SessionID); !errors.Is(err, apperrors.ErrSessionExpired) {
		t.Fatalf("superseded session token still validates, error = %v", err)
	}

	if _, err := fx.svc.ValidateSession(ctx, second.SessionID); err != nil {
		t.Fatalf("ValidateSession(second) error = %v", err)
	}
}

func TestSwitchToAppFailsClosed(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppField: model.RoleFieldAgent})

	ctx := context.Background()

	if _, _, _, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	_, _, err := fx.svc.SwitchToApp(ctx, fx.userID, model.AppTrade)
	if !errors.Is(err, apperrors.ErrNoAppPermission) {
		t.Fatalf("SwitchToApp() error = %v, want %v", err, apperrors.ErrNoAppPermission)
	}
}

func TestSwitchToAppIssuesTargetSession(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{
		model.AppField: model.RoleFieldAgent,
		model.AppTrade: model.RoleRiskOfficer,
	})

	ctx := context.Background()

	if _, _, _, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	before := fx.repo.unified[fx.userID].LastSync

	fx.now = fx.now.Add(time.Hour)

	session, token, err := fx.svc.SwitchToApp(ctx, fx.userID, model.AppTrade)
	if err != nil {
		t.Fatalf("SwitchToApp() error = %v", err)
	}

	if token == "" {
		t.Fatalf("SwitchToApp() returned empty access token")
	}

	if session.App != model.AppTrade {
		t.Fatalf("session app = %q, want %q", session.App, model.AppTrade)
	}

	if after := fx.repo.unified[fx.userID].LastSync; !after.After(before) {
		t.Fatalf("switch must refresh lastSync, before=%v after=%v", before, after)
	}
}

func TestSwitchToAppUnknownTarget(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppField: model.RoleFieldAgent})

	_, _, err := fx.svc.SwitchToApp(context.Background(), fx.userID, "exchange")
	if !errors.Is(err, apperrors.ErrUnknownApp) {
		t.Fatalf("SwitchToApp() error = %v, want %v", err, apperrors.ErrUnknownApp)
	}
}

func TestIsValidHonorsTimeout(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppField: model.RoleFieldAgent})

	session := &model.AppSession{LastActivity: fx.now.Add(-23 * time.Hour)}
	if !fx.svc.IsValid(session) {
		t.Fatalf("session inside the window reported invalid")
	}

	session.LastActivity = fx.now.Add(-24 * time.Hour)
	if fx.svc.IsValid(session) {
		t.Fatalf("session at the timeout boundary reported valid")
	}

	if fx.svc.IsValid(nil) {
		t.Fatalf("nil session reported valid")
	}
}

func TestTouchExtendsSession(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppField: model.RoleFieldAgent})

	ctx := context.Background()

	_, session, _, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	fx.now = fx.now.Add(10 * time.Hour)

	if err := fx.svc.Touch(ctx, session.SessionID); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	stored, err := fx.repo.SelectAppSession(ctx, nil, fx.userID, model.AppField)
	if err != nil {
		t.Fatalf("SelectAppSession() error = %v", err)
	}

	if !stored.LastActivity.Equal(fx.now) {
		t.Fatalf("lastActivity = %v, want %v", stored.LastActivity, fx.now)
	}
}

func TestLogoutAllAppsAsksSibling(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{
		model.AppField: model.RoleFieldAgent,
		model.AppTrade: model.RoleTrader,
	})

	ctx := context.Background()

	_, session, _, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if err := fx.svc.Logout(ctx, fx.userID, true); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, err := fx.repo.SelectAppSession(ctx, nil, fx.userID, model.AppField); !errors.Is(err, apperrors.ErrSessionDoesNotExist) {
		t.Fatalf("local session survived logout")
	}

	if _, err := fx.svc.ValidateSession(ctx, session.SessionID); !errors.Is(err, apperrors.ErrSessionExpired) {
		t.Fatalf("session token survived logout")
	}

	var logout *sentMessage
	for i := range fx.sender.sent {
		if fx.sender.sent[i].msgType == model.MessageUserLogout {
			logout = &fx.sender.sent[i]
		}
	}

	if logout == nil {
		t.Fatalf("logout everywhere did not message the sibling app")
	}

	if logout.dest != model.AppTrade || logout.priority != model.PriorityHigh {
		t.Fatalf("unexpected logout message: %+v", logout)
	}
}

func TestHandleSiblingLogoutClearsLocalSession(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppField: model.RoleFieldAgent})

	ctx := context.Background()

	if _, _, _, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{}); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	payload, err := model.EncodePayload(model.MessageUserLogout, model.UserLogoutPayload{UserID: fx.userID})
	if err != nil {
		t.Fatalf("EncodePayload() error = %v", err)
	}

	msg := model.Message{
		ID:        uuid.New(),
		SourceApp: model.AppTrade,
		DestApp:   model.AppField,
		Type:      model.MessageUserLogout,
		Payload:   payload,
	}

	if err := fx.svc.HandleSiblingLogout(ctx, msg); err != nil {
		t.Fatalf("HandleSiblingLogout() error = %v", err)
	}

	if _, err := fx.repo.SelectAppSession(ctx, nil, fx.userID, model.AppField); !errors.Is(err, apperrors.ErrSessionDoesNotExist) {
		t.Fatalf("sibling logout did not clear the local session")
	}
}

func TestExpiryMonitorForcesLogout(t *testing.T) {
	fx := newSessionFixture(t, map[model.AppID]string{model.AppField: model.RoleFieldAgent})

	ctx := context.Background()

	_, session, _, err := fx.svc.Authenticate(ctx, validCreds(), model.DeviceInfo{})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	fx.now = fx.now.Add(25 * time.Hour)

	fx.svc.expireSessions(ctx)

	if _, err := fx.repo.SelectAppSession(ctx, nil, fx.userID, model.AppField); !errors.Is(err, apperrors.ErrSessionDoesNotExist) {
		t.Fatalf("expired session was not cleared")
	}

	if _, err := fx.svc.ValidateSession(ctx, session.SessionID); !errors.Is(err, apperrors.ErrSessionExpired) {
		t.Fatalf("expired session token was not cleared")
	}

	if len(fx.feed.pushed) != 1 {
		t.Fatalf("expiry pushed %d notifications, want 1", len(fx.feed.pushed))
	}

	if fx.feed.pushed[0].UserID != fx.userID {
		t.Fatalf("expiry notification for wrong user: %s", fx.feed.pushed[0].UserID)
	}
}

package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
	"goldlink/internal/repository"
	"goldlink/pkg/geoip"
	"goldlink/pkg/jwt"
	"goldlink/pkg/redis"
)

const (
	sessionKeyPrefix       = "app_session:"
	expiredSessionsBatch   = 100
	expiredSessionNotified = "Your session expired due to inactivity."
)

type SessionRepository interface {
	UpsertUnifiedSession(ctx context.Context, ext repository.RepoExtension, session *model.UnifiedSession) error
	SelectUnifiedSession(ctx context.Context, ext repository.RepoExtension, userID uuid.UUID) (*model.UnifiedSession, error)
	UpsertAppSession(ctx context.Context, ext repository.RepoExtension, session *model.AppSession) error
	SelectAppSession(ctx context.Context, ext repository.RepoExtension, userID uuid.UUID, app model.AppID) (*model.AppSession, error)
	SelectAppSessionByID(ctx context.Context, ext repository.RepoExtension, sessionID uuid.UUID) (*model.AppSession, error)
	UpdateActivity(ctx context.Context, ext repository.RepoExtension, sessionID uuid.UUID, at time.Time) error
	DeleteAppSession(ctx context.Context, ext repository.RepoExtension, userID uuid.UUID, app model.AppID) error
	SelectExpiredBatch(ctx context.Context, ext repository.RepoExtension, app model.AppID, cutoff time.Time, batchSize int) ([]model.AppSession, error)
}

// TokenStore keeps live session tokens with a TTL matching the session
// inactivity timeout, so abandoned sessions vanish from the cache on their
// own.
type TokenStore interface {
	Set(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID, ttl time.Duration) error
	Get(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error)
	Refresh(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) error
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// RedisTokenStore is the production TokenStore.
type RedisTokenStore struct {
	rdb redis.Redis
}

func NewRedisTokenStore(rdb redis.Redis) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func (s *RedisTokenStore) Set(ctx context.Context, sessionID, userID uuid.UUID, ttl time.Duration) error {
	return s.rdb.RDB().Set(ctx, sessionKeyPrefix+sessionID.String(), userID.String(), ttl).Err()
}

func (s *RedisTokenStore) Get(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	value, err := s.rdb.RDB().Get(ctx, sessionKeyPrefix+sessionID.String()).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return uuid.Nil, apperrors.ErrSessionExpired
		}

		return uuid.Nil, err
	}

	userID, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse session token value: %w", err)
	}

	return userID, nil
}

func (s *RedisTokenStore) Refresh(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) error {
	return s.rdb.RDB().Expire(ctx, sessionKeyPrefix+sessionID.String(), ttl).Err()
}

func (s *RedisTokenStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	return s.rdb.RDB().Del(ctx, sessionKeyPrefix+sessionID.String()).Err()
}

// Sender is the mailbox send operation; the session manager uses it to
// announce logins and propagate best-effort logout to the sibling app.
type Sender interface {
	Send(ctx context.Context, sourceApp, destApp model.AppID, messageType model.MessageType, payload model.Payload, priority model.Priority) (uuid.UUID, error)
}

// Feed receives session lifecycle events for the local notification feed.
type Feed interface {
	Push(ctx context.Context, notification model.Notification) error
}

// CredentialValidator is the injected external collaborator that turns
// credentials into a user profile. This layer never interprets credentials.
type CredentialValidator func(ctx context.Context, creds model.Credentials) (*model.Profile, error)

// PermissionDeriver maps one application role to permission strings.
type PermissionDeriver func(app model.AppID, role string) []string

// CrossAppSyncer refreshes the shared record references for a user. May be
// nil, in which case the existing references are kept as-is.
type CrossAppSyncer func(ctx context.Context, userID uuid.UUID) (model.CrossAppData, error)

type SessionConfig struct {
	LocalApp        model.AppID
	Timeout         time.Duration
	MonitorInterval time.Duration
	AccessTokenTTL  time.Duration
}

// SessionService manages the unified per-user identity and the ephemeral
// per-application sessions. Sessions self-expire per application; "logout
// everywhere" is best-effort message delivery, never a cross-app
// transaction.
type SessionService struct {
	log        *zap.Logger
	cfg        SessionConfig
	privateKey *ecdsa.PrivateKey
	repo       SessionRepository
	tokens     TokenStore
	sender     Sender
	feed       Feed
	validate   CredentialValidator
	derive     PermissionDeriver
	sync       CrossAppSyncer
	geo        geoip.GeoIP

	now func() time.Time
}

func NewSessionService(
	log *zap.Logger,
	cfg SessionConfig,
	privateKey *ecdsa.PrivateKey,
	repo SessionRepository,
	tokens TokenStore,
	sender Sender,
	feed Feed,
	validate CredentialValidator,
	derive PermissionDeriver,
	sync CrossAppSyncer,
	geo geoip.GeoIP,
) *SessionService {
	return &SessionService{
		log:        log,
		cfg:        cfg,
		privateKey: privateKey,
		repo:       repo,
		tokens:     tokens,
		sender:     sender,
		feed:       feed,
		validate:   validate,
		derive:     derive,
		sync:       sync,
		geo:        geo,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate validates credentials, loads or creates the unified session,
// opens an app session for the local application and announces the login to
// the sibling application.
func (s *SessionService) Authenticate(ctx context.Context, creds model.Credentials, device model.DeviceInfo) (*model.UnifiedSession, *model.AppSession, string, error) {
	profile, err := s.validate(ctx, creds)
	if err != nil {
		return nil, nil, "", err
	}

	unified, err := s.loadOrCreateUnified(ctx, profile)
	if err != nil {
		return nil, nil, "", err
	}

	if !unified.HasAccess(s.cfg.LocalApp) {
		return nil, nil, "", apperrors.ErrNoAppPermission
	}

	session, token, err := s.openAppSession(ctx, unified, s.cfg.LocalApp, s.enrichDevice(device))
	if err != nil {
		return nil, nil, "", err
	}

	s.announce(ctx, unified.UserID, profile.Username)

	return unified, session, token, nil
}

// SwitchToApp opens a session in the target application for an already
// authenticated user. Fails closed when the unified session grants no
// permission for the target.
func (s *SessionService) SwitchToApp(ctx context.Context, userID uuid.UUID, targetApp model.AppID) (*model.AppSession, string, error) {
	if !targetApp.Valid() {
		return nil, "", apperrors.ErrUnknownApp
	}

	unified, err := s.repo.SelectUnifiedSession(ctx, nil, userID)
	if err != nil {
		return nil, "", err
	}

	if !unified.HasAccess(targetApp) {
		return nil, "", apperrors.ErrNoAppPermission
	}

	if err := s.syncCrossAppData(ctx, unified); err != nil {
		// Reference refresh is not worth failing the switch.
		s.log.Warn("Failed to sync cross app data", zap.Error(err))
	}

	var device model.DeviceInfo
	if current, err := s.repo.SelectAppSession(ctx, nil, userID, s.cfg.LocalApp); err == nil {
		device = current.DeviceInfo
	}

	session, token, err := s.openAppSession(ctx, unified, targetApp, device)
	if err != nil {
		return nil, "", err
	}

	return session, token, nil
}

// IsValid reports whether the session is inside its inactivity window.
func (s *SessionService) IsValid(session *model.AppSession) bool {
	if session == nil {
		return false
	}

	return !session.Expired(s.now(), s.cfg.Timeout)
}

// ValidateSession resolves a live session token to its user. Expired or
// cleared sessions surface as ErrSessionExpired; the caller re-authenticates.
func (s *SessionService) ValidateSession(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	return s.tokens.Get(ctx, sessionID)
}

// Touch records activity on a session, extending both the persisted record
// and the token TTL.
func (s *SessionService) Touch(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.repo.UpdateActivity(ctx, nil, sessionID, s.now()); err != nil {
		return err
	}

	if err := s.tokens.Refresh(ctx, sessionID, s.cfg.Timeout); err != nil {
		s.log.Warn("Failed to refresh session token TTL", zap.Error(err))
	}

	return nil
}

// Logout clears the local app session. With allApps it additionally asks
// the sibling application to clear its own session for the user; that
// message is best effort, the sibling's session self-expires regardless.
func (s *SessionService) Logout(ctx context.Context, userID uuid.UUID, allApps bool) error {
	session, err := s.repo.SelectAppSession(ctx, nil, userID, s.cfg.LocalApp)
	if err != nil && !errors.Is(err, apperrors.ErrSessionDoesNotExist) {
		return err
	}

	if session != nil {
		if err := s.clearSession(ctx, session); err != nil {
			return err
		}
	}

	if allApps {
		_, err := s.sender.Send(ctx, s.cfg.LocalApp, s.cfg.LocalApp.Sibling(),
			model.MessageUserLogout,
			model.UserLogoutPayload{UserID: userID},
			model.PriorityHigh,
		)
		if err != nil {
			s.log.Warn("Failed to send logout message to sibling app", zap.Error(err))
		}
	}

	return nil
}

// HandleSiblingLogout is subscribed to user_logout messages; it clears the
// local session for the user named in the payload.
func (s *SessionService) HandleSiblingLogout(ctx context.Context, msg model.Message) error {
	payload, err := model.DecodePayload(msg)
	if err != nil {
		return err
	}

	logout, ok := payload.(model.UserLogoutPayload)
	if !ok {
		return apperrors.ErrInvalidPayload
	}

	return s.Logout(ctx, logout.UserID, false)
}

// RunExpiryMonitor periodically forces logout of sessions that outlived the
// inactivity timeout. It mutates sessions only through the repository, the
// same discipline as every other writer.
func (s *SessionService) RunExpiryMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Session expiry monitor stopped")

			return
		case <-ticker.C:
			s.expireSessions(ctx)
		}
	}
}

func (s *SessionService) expireSessions(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.Timeout)

	sessions, err := s.repo.SelectExpiredBatch(ctx, nil, s.cfg.LocalApp, cutoff, expiredSessionsBatch)
	if err != nil {
		s.log.Error("Failed to select expired sessions", zap.Error(err))

		return
	}

	for _, session := range sessions {
		session := session
		if err := s.clearSession(ctx, &session); err != nil {
			s.log.Error("Failed to clear expired session",
				zap.String("session_id", session.SessionID.String()),
				zap.Error(err),
			)

			continue
		}

		s.log.Info("Session expired",
			zap.String("user_id", session.UserID.String()),
			zap.String("app", session.App.String()),
		)

		if s.feed != nil {
			notification := model.Notification{
				UserID:   session.UserID,
				FromApp:  s.cfg.LocalApp,
				Type:     model.MessageUserNotification,
				Title:    "Session expired",
				Body:     expiredSessionNotified,
				Priority: model.PriorityLow,
			}

			if err := s.feed.Push(ctx, notification); err != nil {
				s.log.Warn("Failed to push expiry notification", zap.Error(err))
			}
		}
	}
}

func (s *SessionService) loadOrCreateUnified(ctx context.Context, profile *model.Profile) (*model.UnifiedSession, error) {
	permissions := make(map[model.AppID][]string, len(profile.Roles))
	for app, role := range profile.Roles {
		if derived := s.derive(app, role); len(derived) > 0 {
			permissions[app] = derived
		}
	}

	now := s.now()

	unified, err := s.repo.SelectUnifiedSession(ctx, nil, profile.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUnifiedSessionAbsent):
		unified = &model.UnifiedSession{
			UserID:      profile.UserID,
			PrimaryApp:  s.cfg.LocalApp,
			Permissions: permissions,
			LastSync:    now,
			CreatedAt:   now,
		}
	case err != nil:
		return nil, err
	default:
		// Roles may have changed since the last login; re-derive.
		unified.Permissions = permissions
		unified.LastSync = now
	}

	if err := s.repo.UpsertUnifiedSession(ctx, nil, unified); err != nil {
		return nil, fmt.Errorf("failed to upsert unified session: %w", err)
	}

	return unified, nil
}

func (s *SessionService) openAppSession(ctx context.Context, unified *model.UnifiedSession, app model.AppID, device model.DeviceInfo) (*model.AppSession, string, error) {
	// The upsert supersedes the previous (user, app) session row; its token
	// must go with it, or it stays live until the TTL runs out.
	if prev, err := s.repo.SelectAppSession(ctx, nil, unified.UserID, app); err == nil {
		if err := s.tokens.Delete(ctx, prev.SessionID); err != nil {
			s.log.Warn("Failed to delete superseded session token", zap.Error(err))
		}
	}

	now := s.now()

	session := &model.AppSession{
		SessionID:    uuid.New(),
		UserID:       unified.UserID,
		App:          app,
		Permissions:  unified.Permissions[app],
		DeviceInfo:   device,
		StartedAt:    now,
		LastActivity: now,
	}

	if err := s.repo.UpsertAppSession(ctx, nil, session); err != nil {
		return nil, "", fmt.Errorf("failed to upsert app session: %w", err)
	}

	if err := s.tokens.Set(ctx, session.SessionID, session.UserID, s.cfg.Timeout); err != nil {
		return nil, "", fmt.Errorf("failed to store session token: %w", err)
	}

	token, err := jwt.NewToken(s.privateKey, s.cfg.AccessTokenTTL,
		jwt.WithClaim(model.UserUIDKey, session.UserID),
		jwt.WithClaim(model.SessionIDKey, session.SessionID),
		jwt.WithClaim(model.SessionAppKey, session.App),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate access token: %w", err)
	}

	return session, token, nil
}

func (s *SessionService) clearSession(ctx context.Context, session *model.AppSession) error {
	if err := s.repo.DeleteAppSession(ctx, nil, session.UserID, session.App); err != nil {
		return err
	}

	if err := s.tokens.Delete(ctx, session.SessionID); err != nil {
		s.log.Warn("Failed to delete session token", zap.Error(err))
	}

	return nil
}

func (s *SessionService) syncCrossAppData(ctx context.Context, unified *model.UnifiedSession) error {
	if s.sync != nil {
		refs, err := s.sync(ctx, unified.UserID)
		if err != nil {
			return err
		}

		unified.CrossApp = refs
	}

	unified.LastSync = s.now()

	return s.repo.UpsertUnifiedSession(ctx, nil, unified)
}

// announce tells the sibling application about the login; best effort.
func (s *SessionService) announce(ctx context.Context, userID uuid.UUID, username string) {
	_, err := s.sender.Send(ctx, s.cfg.LocalApp, s.cfg.LocalApp.Sibling(),
		model.MessageUserNotification,
		model.UserNotificationPayload{
			UserID:   userID,
			Title:    "Signed in",
			Body:     fmt.Sprintf("%s signed in to %s", username, s.cfg.LocalApp),
			Priority: model.PriorityLow,
		},
		model.PriorityLow,
	)
	if err != nil {
		s.log.Warn("Failed to announce login to sibling app", zap.Error(err))
	}
}

func (s *SessionService) enrichDevice(device model.DeviceInfo) model.DeviceInfo {
	if s.geo == nil || device.IP == "" {
		return device
	}

	info := s.geo.Lookup(net.ParseIP(device.IP))
	device.Country = info.Country
	device.ASN = info.ASN
	device.ASNOrg = info.ASNOrg

	return device
}

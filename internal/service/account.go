package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/superparser/gateway-control/internal/audit"
	"github.com/superparser/gateway-control/internal/auth"
	apperrors "github.com/superparser/gateway-control/internal/errors"
	"github.com/superparser/gateway-control/internal/model"
	"github.com/superparser/gateway-control/internal/repository"
	"github.com/superparser/gateway-control/internal/util"
)

// Mailer delivers verification links.
type Mailer interface {
	SendVerification(ctx context.Context, email, link string) error
}

// LogMailer writes verification links to the log instead of sending mail.
type LogMailer struct{}

func (LogMailer) SendVerification(ctx context.Context, email, link string) error {
	log.Info().Str("email", email).Msg("verification email queued")
	log.Debug().Str("email", email).Str("link", link).Msg("verification link")
	return nil
}

// VerificationResult is returned once an email is verified.
type VerificationResult struct {
	AccountID    string        `json:"accountId"`
	Email        string        `json:"email"`
	APIKey       string        `json:"apiKey"`
	SessionToken string        `json:"token"`
	Activated    bool          `json:"activated"`
	HasUsage     bool          `json:"hasUsage"`
	Subscription *ChangeResult `json:"subscription"`
}

type AccountService struct {
	accountRepo   repository.AccountRepository
	usageRepo     repository.UsageRepository
	subscriptions *SubscriptionService
	tokens        *auth.TokenService
	box           *util.SecretBox
	mailer        Mailer
	frontendURL   string
}

func NewAccountService(
	accountRepo repository.AccountRepository,
	usageRepo repository.UsageRepository,
	subscriptions *SubscriptionService,
	tokens *auth.TokenService,
	box *util.SecretBox,
	mailer Mailer,
	frontendURL string,
) *AccountService {
	return &AccountService{
		accountRepo:   accountRepo,
		usageRepo:     usageRepo,
		subscriptions: subscriptions,
		tokens:        tokens,
		box:           box,
		mailer:        mailer,
		frontendURL:   frontendURL,
	}
}

// RequestVerification makes sure an account exists for email and mails it a
// verification link. New accounts start inactive with a freshly issued key.
func (s *AccountService) RequestVerification(ctx context.Context, email string) error {
	email = util.NormalizeEmail(email)

	if _, _, err := s.ensureAccount(ctx, email, false); err != nil {
		return err
	}

	token, err := s.tokens.IssueVerification(email)
	if err != nil {
		return fmt.Errorf("issue verification token: %w", err)
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", s.frontendURL, url.QueryEscape(token))
	if err := s.mailer.SendVerification(ctx, email, link); err != nil {
		return fmt.Errorf("send verification: %w", err)
	}

	audit.Log(ctx, audit.Event{Type: audit.EventVerificationSent, Email: email})
	return nil
}

// VerifyEmail activates the account named by token, makes sure it has a
// subscription pushed to the gateway and opens a dashboard session.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*VerificationResult, error) {
	claims, err := s.tokens.ValidateVerification(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.InvalidToken("Invalid verification token")
	}
	email := util.NormalizeEmail(claims.Email)

	account, created, err := s.ensureAccount(ctx, email, true)
	if err != nil {
		return nil, err
	}

	wasInactive := !account.Active
	if wasInactive {
		account, err = s.accountRepo.SetActive(ctx, account.ID, true)
		if err != nil {
			return nil, fmt.Errorf("activate account: %w", err)
		}
	}

	// Reactivation must push the consumer again; a deactivated account has
	// none at the gateway even though its subscription reads synced.
	change, err := s.subscriptions.StartFree(ctx, account.ID, wasInactive)
	if err != nil {
		return nil, err
	}

	apiKey, err := s.box.Open(account.APIKey)
	if err != nil {
		return nil, fmt.Errorf("open api key: %w", err)
	}

	session, err := s.tokens.IssueSession(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	hasUsage, err := s.usageRepo.HasAny(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("check usage: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventEmailVerified,
		AccountID: account.ID,
		Email:     account.Email,
		Details:   map[string]interface{}{"activated": wasInactive || created},
	})

	return &VerificationResult{
		AccountID:    account.ID,
		Email:        account.Email,
		APIKey:       apiKey,
		SessionToken: session,
		Activated:    wasInactive || created,
		HasUsage:     hasUsage,
		Subscription: change,
	}, nil
}

// APIKey returns the plaintext key of an account.
func (s *AccountService) APIKey(account *model.Account) (string, error) {
	key, err := s.box.Open(account.APIKey)
	if err != nil {
		return "", fmt.Errorf("open api key: %w", err)
	}
	return key, nil
}

// ensureAccount returns the account for email, creating it with a new key
// when missing. The key is issued exactly once per account.
func (s *AccountService) ensureAccount(ctx context.Context, email string, active bool) (*model.Account, bool, error) {
	existing, err := s.accountRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("find account: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	key := uuid.NewString()
	sealed, err := s.box.Seal(key)
	if err != nil {
		return nil, false, fmt.Errorf("seal api key: %w", err)
	}

	account, created, err := s.accountRepo.CreateIfNotExists(ctx, model.CreateAccountParams{
		Email:      email,
		APIKey:     sealed,
		APIKeyHash: util.HashKey(key),
		Active:     active,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create account: %w", err)
	}
	if created {
		log.Info().Str("account_id", account.ID).Str("api_key", util.MaskKey(key)).Msg("account created")
	}
	return account, created, nil
}

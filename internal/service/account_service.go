package service

import (
	"errors"
	"fmt"

	"github.com/papertrade-sim/internal/config"
	"github.com/papertrade-sim/internal/models"
	"github.com/papertrade-sim/internal/repository"
	"github.com/papertrade-sim/pkg/crypto"
	"github.com/papertrade-sim/pkg/keygen"
	"gorm.io/gorm"
)

var ErrInvalidAmount = errors.New("amount must be positive")

// AccountService handles account operations
type AccountService struct {
	accountRepo      *repository.AccountRepository
	ledgerRepo       *repository.LedgerRepository
	encryptionConfig config.EncryptionConfig
}

// NewAccountService creates a new AccountService
func NewAccountService(
	accountRepo *repository.AccountRepository,
	ledgerRepo *repository.LedgerRepository,
	encryptionConfig config.EncryptionConfig,
) *AccountService {
	return &AccountService{
		accountRepo:      accountRepo,
		ledgerRepo:       ledgerRepo,
		encryptionConfig: encryptionConfig,
	}
}

// CreateAccountRequest represents the create account request
type CreateAccountRequest struct {
	Name            string            `json:"name" binding:"required,min=1,max=50"`
	InitialBalance  float64           `json:"initial_balance" binding:"required,gt=0"`
	MarginMode      models.MarginMode `json:"margin_mode" binding:"omitempty,oneof=cross isolated"`
	DefaultLeverage int               `json:"default_leverage" binding:"omitempty,min=1,max=125"`
}

// CreateAccount creates a new paper-trading account with fresh API
// credentials. The initial balance is recorded as a deposit ledger entry.
func (s *AccountService) CreateAccount(userID uint, req *CreateAccountRequest) (*models.AccountResponse, error) {
	if req.MarginMode == "" {
		req.MarginMode = models.MarginModeCross
	}
	if req.DefaultLeverage == 0 {
		req.DefaultLeverage = 20
	}

	keys, err := keygen.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API keys: %w", err)
	}

	encryptedSecret, err := crypto.EncryptAES(keys.APISecret, s.encryptionConfig.AESKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt API secret: %w", err)
	}

	account := &models.Account{
		UserID:             userID,
		Name:               req.Name,
		APIKey:             keys.APIKey,
		APISecretEncrypted: encryptedSecret,
		Balance:            req.InitialBalance,
		InitialBalance:     req.InitialBalance,
		MarginMode:         req.MarginMode,
		DefaultLeverage:    req.DefaultLeverage,
		MakerFeeRate:       0.0002,
		TakerFeeRate:       0.0004,
	}

	if err := s.accountRepo.Create(account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	deposit := &models.LedgerEntry{
		AccountID:    account.ID,
		Type:         models.LedgerDeposit,
		Amount:       req.InitialBalance,
		BalanceAfter: account.Balance,
		Reference:    fmt.Sprintf("account:%d:initial", account.ID),
	}
	if err := s.ledgerRepo.Create(deposit); err != nil {
		return nil, err
	}

	return s.buildAccountResponse(account, keys.APISecret), nil
}

// GetAccounts retrieves all accounts for a user
func (s *AccountService) GetAccounts(userID uint) ([]models.AccountResponse, error) {
	accounts, err := s.accountRepo.GetByUserID(userID)
	if err != nil {
		return nil, err
	}

	responses := make([]models.AccountResponse, len(accounts))
	for i, account := range accounts {
		responses[i] = *s.buildAccountResponse(&account, "")
	}

	return responses, nil
}

// GetAccountByID retrieves an account by ID
func (s *AccountService) GetAccountByID(userID, accountID uint) (*models.AccountResponse, error) {
	account, err := s.accountRepo.GetByIDAndUserID(accountID, userID)
	if err != nil {
		return nil, err
	}

	return s.buildAccountResponse(account, ""), nil
}

// UpdateAccountRequest represents the update account request
type UpdateAccountRequest struct {
	Name            *string            `json:"name" binding:"omitempty,min=1,max=50"`
	MarginMode      *models.MarginMode `json:"margin_mode" binding:"omitempty,oneof=cross isolated"`
	DefaultLeverage *int               `json:"default_leverage" binding:"omitempty,min=1,max=125"`
}

// UpdateAccount updates an account
func (s *AccountService) UpdateAccount(userID, accountID uint, req *UpdateAccountRequest) (*models.AccountResponse, error) {
	account, err := s.accountRepo.GetByIDAndUserID(accountID, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		account.Name = *req.Name
	}
	if req.MarginMode != nil {
		account.MarginMode = *req.MarginMode
	}
	if req.DefaultLeverage != nil {
		account.DefaultLeverage = *req.DefaultLeverage
	}

	if err := s.accountRepo.Update(account); err != nil {
		return nil, err
	}

	return s.buildAccountResponse(account, ""), nil
}

// DeleteAccount deletes an account
func (s *AccountService) DeleteAccount(userID, accountID uint) error {
	if _, err := s.accountRepo.GetByIDAndUserID(accountID, userID); err != nil {
		return err
	}
	return s.accountRepo.Delete(accountID)
}

// ResetAPIKey resets the API key and secret for an account
func (s *AccountService) ResetAPIKey(userID, accountID uint) (*models.AccountResponse, error) {
	account, err := s.accountRepo.GetByIDAndUserID(accountID, userID)
	if err != nil {
		return nil, err
	}

	keys, err := keygen.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API keys: %w", err)
	}

	encryptedSecret, err := crypto.EncryptAES(keys.APISecret, s.encryptionConfig.AESKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt API secret: %w", err)
	}

	account.APIKey = keys.APIKey
	account.APISecretEncrypted = encryptedSecret

	if err := s.accountRepo.Update(account); err != nil {
		return nil, err
	}

	return s.buildAccountResponse(account, keys.APISecret), nil
}

// Fund credits an account balance. Admin-only; the caller is expected to
// have checked the admin role. The deposit is written to the ledger under
// the same row lock as the balance change.
func (s *AccountService) Fund(accountID uint, amount float64, reference string) (*models.AccountResponse, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var funded *models.Account
	err := s.accountRepo.UpdateWithLock(accountID, func(tx *gorm.DB, acc *models.Account) error {
		acc.Balance += amount
		entry := &models.LedgerEntry{
			AccountID:    acc.ID,
			Type:         models.LedgerDeposit,
			Amount:       amount,
			BalanceAfter: acc.Balance,
			Reference:    reference,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		funded = acc
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.buildAccountResponse(funded, ""), nil
}

// buildAccountResponse builds an AccountResponse from an Account
func (s *AccountService) buildAccountResponse(account *models.Account, apiSecret string) *models.AccountResponse {
	return &models.AccountResponse{
		ID:              account.ID,
		Name:            account.Name,
		APIKey:          account.APIKey,
		APISecret:       apiSecret,
		Balance:         account.Balance,
		InitialBalance:  account.InitialBalance,
		MarginMode:      account.MarginMode,
		DefaultLeverage: account.DefaultLeverage,
		MakerFeeRate:    account.MakerFeeRate,
		TakerFeeRate:    account.TakerFeeRate,
		CreatedAt:       account.CreatedAt,
	}
}

package ocr2

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// BeginOffchainConfig starts staging a new offchain config.
func (a *Aggregator) BeginOffchainConfig(authority solana.PublicKey, version uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	if a.pendingOffchainConfig.Version != 0 || !a.pendingOffchainConfig.IsEmpty() {
		return fmt.Errorf("offchain config staging already started; %w", ErrInvalidInput)
	}
	if version == 0 {
		return fmt.Errorf("offchain config version must be non-zero; %w", ErrInvalidInput)
	}
	a.pendingOffchainConfig.Version = version
	return nil
}

// WriteOffchainConfig appends data to the staged offchain config.
func (a *Aggregator) WriteOffchainConfig(authority solana.PublicKey, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	if len(data) >= a.pendingOffchainConfig.RemainingCapacity() {
		return fmt.Errorf("%d bytes do not fit, %d remaining; %w", len(data), a.pendingOffchainConfig.RemainingCapacity(), ErrInvalidInput)
	}
	if a.pendingOffchainConfig.Version == 0 {
		return fmt.Errorf("offchain config staging not started; %w", ErrInvalidInput)
	}
	a.pendingOffchainConfig.Data = append(a.pendingOffchainConfig.Data, data...)
	return nil
}

// CommitOffchainConfig moves the staged offchain config into place and
// recomputes the config digest.
func (a *Aggregator) CommitOffchainConfig(ctx context.Context, authority solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	if a.pendingOffchainConfig.Version == 0 || a.pendingOffchainConfig.IsEmpty() {
		return fmt.Errorf("nothing staged; %w", ErrInvalidInput)
	}
	configCount, err := a.nextConfigCount()
	if err != nil {
		return err
	}
	onchainConfig, err := a.onchainConfig()
	if err != nil {
		return err
	}
	a.offchainConfig = a.pendingOffchainConfig
	a.pendingOffchainConfig = OffchainConfig{}
	a.commitConfig(ctx, configCount, onchainConfig)
	return nil
}

func (a *Aggregator) ResetPendingOffchainConfig(authority solana.PublicKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireOwner(authority); err != nil {
		return err
	}
	if a.pendingOffchainConfig.Version == 0 && a.pendingOffchainConfig.IsEmpty() {
		return fmt.Errorf("nothing staged; %w", ErrInvalidInput)
	}
	a.pendingOffchainConfig = OffchainConfig{}
	return nil
}

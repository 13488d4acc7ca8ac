package verifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/v-inference/backend/internal/models"
	"go.uber.org/zap"
)

// Verifier checks a settlement proof against its public inputs. The ledger
// treats every implementation as untrusted and only acts on the boolean
// result: true releases funds, anything else leaves the job pending.
type Verifier interface {
	Verify(ctx context.Context, proof []byte, publicInputs []string) (bool, error)
}

// Factory resolves the Verifier selected by the current ledger settings.
// The groth16 verifier is built once and cached (verifying key parsing is
// not free); the HTTP verifier is rebuilt when the endpoint changes.
type Factory struct {
	vkPath string
	log    *zap.Logger

	mu        sync.Mutex
	groth16   *Groth16Verifier
	httpByURL map[string]*HTTPVerifier
}

func NewFactory(vkPath string, log *zap.Logger) *Factory {
	return &Factory{
		vkPath:    vkPath,
		log:       log,
		httpByURL: make(map[string]*HTTPVerifier),
	}
}

// For returns the verifier for the given settings, or
// models.ErrVerifierNotConfigured when none is set.
func (f *Factory) For(settings *models.LedgerSettings) (Verifier, error) {
	switch settings.VerifierKind {
	case models.VerifierKindNone:
		return nil, models.ErrVerifierNotConfigured

	case models.VerifierKindHTTP:
		if settings.VerifierEndpoint == "" {
			return nil, models.ErrVerifierNotConfigured
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		v, ok := f.httpByURL[settings.VerifierEndpoint]
		if !ok {
			v = NewHTTPVerifier(settings.VerifierEndpoint, f.log)
			f.httpByURL[settings.VerifierEndpoint] = v
		}
		return v, nil

	case models.VerifierKindGroth16:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.groth16 == nil {
			if f.vkPath == "" {
				return nil, models.ErrVerifierNotConfigured
			}
			v, err := NewGroth16VerifierFromFile(f.vkPath)
			if err != nil {
				return nil, fmt.Errorf("load groth16 verifying key: %w", err)
			}
			f.groth16 = v
		}
		return f.groth16, nil

	default:
		return nil, fmt.Errorf("unknown verifier kind %q", settings.VerifierKind)
	}
}

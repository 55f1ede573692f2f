package license

import "github.com/rs/zerolog"

// Backend is a store that serves both the core and the admin directory
type Backend interface {
	Store
	ResellerDirectory
}

// Dependencies wires the license services together
type Dependencies struct {
	Store     Backend
	Publisher Publisher
	Mirror    KeyMirror
	Observer  VerdictObserver
	Clock     Clock
	Logger    zerolog.Logger
}

// Services is the assembled license core
type Services struct {
	Ledger       *CreditLedger
	Devices      *DeviceRegistry
	Generator    *Generator
	Issuance     *IssuanceService
	Verification *VerificationEngine
	Revocation   *RevocationService
	Catalog      *Catalog
	Resellers    *ResellerService
}

// NewServices builds every service over one store. The ledger and the device
// registry own the per-reseller and per-key locks shared by the others.
func NewServices(deps Dependencies) *Services {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}

	ledger := NewCreditLedger(deps.Store, publisher, deps.Logger)
	devices := NewDeviceRegistry(deps.Store, deps.Store, deps.Store, publisher, deps.Logger)
	generator := NewGenerator()

	issuanceOpts := []IssuanceOption{WithIssuanceClock(clock), WithIssuancePublisher(publisher)}
	if deps.Mirror != nil {
		issuanceOpts = append(issuanceOpts, WithKeyMirror(deps.Mirror))
	}
	verificationOpts := []VerificationOption{WithVerificationClock(clock)}
	if deps.Observer != nil {
		verificationOpts = append(verificationOpts, WithVerdictObserver(deps.Observer))
	}

	return &Services{
		Ledger:       ledger,
		Devices:      devices,
		Generator:    generator,
		Issuance:     NewIssuanceService(deps.Store, generator, ledger, deps.Logger, issuanceOpts...),
		Verification: NewVerificationEngine(deps.Store, devices, deps.Logger, verificationOpts...),
		Revocation:   NewRevocationService(deps.Store, deps.Store, devices, publisher, deps.Logger),
		Catalog:      NewCatalog(deps.Store, devices, clock),
		Resellers:    NewResellerService(deps.Store, publisher, deps.Logger),
	}
}

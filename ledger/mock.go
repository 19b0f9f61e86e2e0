package ledger

import "context"

// MockService is a test double for Service.
// All function fields must be set before the corresponding method is called.
type MockService struct {
	GetCapabilityFn      func(ctx context.Context, id string) (*Capability, error)
	DevInspectFn         func(ctx context.Context, tx *Transaction, sender string) (*InspectResult, error)
	ExecuteTransactionFn func(ctx context.Context, txBytes, signature []byte) (string, error)
	WaitForTransactionFn func(ctx context.Context, digest string) (*TxEffects, error)
}

var _ Service = (*MockService)(nil)

func (m *MockService) GetCapability(ctx context.Context, id string) (*Capability, error) {
	return m.GetCapabilityFn(ctx, id)
}
func (m *MockService) DevInspect(ctx context.Context, tx *Transaction, sender string) (*InspectResult, error) {
	return m.DevInspectFn(ctx, tx, sender)
}
func (m *MockService) ExecuteTransaction(ctx context.Context, txBytes, signature []byte) (string, error) {
	return m.ExecuteTransactionFn(ctx, txBytes, signature)
}
func (m *MockService) WaitForTransaction(ctx context.Context, digest string) (*TxEffects, error) {
	return m.WaitForTransactionFn(ctx, digest)
}

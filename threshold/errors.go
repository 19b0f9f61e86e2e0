package threshold

import "errors"

var (
	// ErrAccessDenied indicates a key server evaluated the approval and refused it.
	ErrAccessDenied = errors.New("threshold: access denied")

	// ErrSessionExpired indicates the session certificate is past its TTL.
	ErrSessionExpired = errors.New("threshold: session expired")

	// ErrTransport indicates a key server could not be reached or answered abnormally.
	ErrTransport = errors.New("threshold: transport failure")

	// ErrQuorumNotReached indicates fewer than threshold key servers released a share.
	ErrQuorumNotReached = errors.New("threshold: quorum not reached")

	// ErrInvalidCertificate indicates a missing, unsigned or forged session certificate.
	ErrInvalidCertificate = errors.New("threshold: invalid session certificate")

	// ErrInvalidApproval indicates the approval transaction is not a seal_approve
	// call for the requested identity.
	ErrInvalidApproval = errors.New("threshold: invalid approval transaction")

	// ErrMalformedObject indicates encrypted bytes that cannot be parsed.
	ErrMalformedObject = errors.New("threshold: malformed encrypted object")

	// ErrDecryption indicates authenticated decryption failed.
	ErrDecryption = errors.New("threshold: decryption failed")

	// ErrInvalidThreshold indicates a threshold outside 1..len(servers).
	ErrInvalidThreshold = errors.New("threshold: invalid threshold")

	// ErrUnknownServer indicates a share addressed to a key server that is not configured.
	ErrUnknownServer = errors.New("threshold: unknown key server")

	// ErrInvalidIdentity indicates an encryption identity that is not 32 bytes.
	ErrInvalidIdentity = errors.New("threshold: identity must be 32 bytes")

	// ErrDiscovery indicates key server records could not be resolved or parsed.
	ErrDiscovery = errors.New("threshold: key server discovery failed")
)

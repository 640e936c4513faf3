package accounts

// New wires the full protocol from configuration: codec, code service,
// reconciler, credential store, session issuer, and the HTTP controller
// binding them together.
func New(cfg Config, stores StoreProvider, m Mailer, logger Logger) *AccountController {
	if logger == nil {
		logger = defLogger{}
	}

	codec := NewTokenCodec([]byte(cfg.GetSigningKey()), cfg.GetIssuer(), logger)
	status := NewReconciler(stores, logger)
	codes := NewCodeService(stores, status, cfg.GetCodeTTL(), logger)
	creds := NewCredentials(stores, status, logger)
	sessions := NewSessionIssuer(codec, cfg.GetSessionTTL(), cfg.GetGuestSessionTTL())

	return NewAccountController(
		WithComponents(codec, codes, status, creds, sessions),
		WithMailer(m),
		WithLogger(logger),
		WithPublicBaseURL(cfg.GetPublicBaseURL()),
		WithConfirmTokenTTL(cfg.GetConfirmTokenTTL()),
	)
}

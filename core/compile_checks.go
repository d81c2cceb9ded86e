package core

var (
	_ ConfigProvider   = (*CfgxConfigProvider)(nil)
	_ OptionsResolver  = GoOptionsResolver{}
	_ RawConfigLoader  = StaticRawConfigLoader{}
	_ BackoffScheduler = ExponentialBackoff{}
	_ error            = (*RetryExhaustedError)(nil)
)

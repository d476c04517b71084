package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EventHandler = EventHandlerFunc(nil)
	_ RetryPolicy  = FixedDelayRetryPolicy{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)

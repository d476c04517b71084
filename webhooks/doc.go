// Package webhooks verifies Stripe deliveries and hands them to the inbox.
//
// The receiver never runs domain side effects. A delivery is acknowledged
// once it is buffered; processing happens later on the worker pool.
package webhooks

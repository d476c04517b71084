// Package fulfillment turns completed checkout sessions into delivery orders.
//
// CheckoutSessionHandler is registered on the inbox handler registry for
// checkout.session.completed. For each session it resolves the customer
// contact, builds pickup and dropoff places, and records an order with two
// waypoints. NotificationRouter announces the created order on the tenant
// channel once the buffered event is done.
package fulfillment

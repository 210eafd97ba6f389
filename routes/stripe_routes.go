package routes

import (
	"net/http"

	"imageforge/handlers"
	middleware "imageforge/middlewares"
)

func RegisterStripeRoutes(mux *http.ServeMux, sh *handlers.StripeHandler, authMw *middleware.Auth) {
	mux.Handle("POST /api/stripe/create-checkout-session", authMw.Middleware(http.HandlerFunc(sh.CreateCheckoutSession)))
	mux.Handle("POST /api/stripe/customer-portal", authMw.Middleware(http.HandlerFunc(sh.CustomerPortal)))
	mux.Handle("POST /api/stripe/cancel-subscription", authMw.Middleware(http.HandlerFunc(sh.CancelSubscription)))
	mux.Handle("POST /api/stripe/reactivate-subscription", authMw.Middleware(http.HandlerFunc(sh.ReactivateSubscription)))
	mux.Handle("GET /api/stripe/subscription", authMw.Middleware(http.HandlerFunc(sh.GetSubscription)))
	mux.HandleFunc("GET /api/stripe/plans", sh.ListPlans)

	// No auth: Stripe signs these deliveries itself.
	mux.HandleFunc("POST /webhook/stripe", sh.HandleWebhook)
}

// Package authclient manages PrepDeck sign-in state on a device: it signs
// users in and out, persists the session across restarts, keeps access
// tokens fresh in the background, and exposes an http.Client that
// authenticates requests to the rest of the API.
//
// A minimal program looks like:
//
//	client, err := authclient.New(authclient.Config{
//		APIBaseURL: "https://api.prepdeck.io/api",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Start(ctx) // restore and validate any persisted session
//
//	if !client.IsAuthenticated() {
//		if _, err := client.Login(ctx, email, password); err != nil {
//			log.Fatal(err)
//		}
//	}
//
//	resp, err := client.HTTPClient().Get("https://api.prepdeck.io/api/decks")
//
// Session state, persistence, and refresh scheduling live in the session
// package; the raw wire calls in gateway; browser-redirect sign-in in
// authflow. This package only wires them together.
package authclient

// Package oauth2 owns the app access token used against the game database.
//
// A Manager performs the OAuth 2.0 client-credentials grant against a single
// token endpoint and shares the resulting token between every caller in the
// process:
//
//   - a cached token is returned without any network call while
//     now < IssuedAt + TTL - SafetyMargin
//   - when it is missing or inside its safety margin, exactly one renewal is
//     in flight at a time; concurrent callers wait on it and share its result
//   - a failed renewal never hands out the stale token; the next call
//     starts a fresh renewal
//   - Invalidate clears the token only if it is still the one the caller used,
//     so a burst of 401s caused by one token triggers a single renewal
//
// The manager has no retry loop of its own. Callers decide whether a renewal
// error is worth retrying via errors.IsRetryable.
//
// # Usage
//
//	manager, err := oauth2.NewManager(oauth2.Config{
//	    ClientID:     clientID,
//	    ClientSecret: clientSecret,
//	    TokenURL:     "https://id.twitch.tv/oauth2/token",
//	    SafetyMargin: time.Minute,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	token, err := manager.GetValidToken(ctx)
//	if err != nil {
//	    return err
//	}
//	req.Header.Set("Authorization", token.Authorization())
package oauth2

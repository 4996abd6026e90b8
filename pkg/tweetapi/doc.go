// Package tweetapi fetches follower and following pages from TweetAPI-style
// social-graph services.
//
// Two request shapes are supported. VariantV1 posts a JSON body of
// {user_id, count, cursor} and authenticates with a bearer token;
// VariantV2 issues GET requests with userId and cursor query parameters and
// an X-API-Key header. Both the header name and the scheme can be
// overridden.
//
// Responses are normalized by checking a prioritized list of field names for
// the record array, the continuation cursor and each record field, so a
// single client tolerates the several payload shapes seen in the wild. A
// payload with no recognizable record array is an empty last page, not an
// error.
//
//	client := tweetapi.NewClient(tweetapi.Options{
//	    Variant: tweetapi.VariantV2,
//	    APIKey:  key,
//	})
//	records, next, err := client.FetchPage(ctx, "12345", "")
//
// Every non-2xx response surfaces as an *errors.Error of type upstream with
// the status code and a bounded body; transport failures use status 0.
package tweetapi

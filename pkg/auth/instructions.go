package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowCaptureGuide writes step-by-step instructions for capturing the
// session cookies, request headers and endpoint ids from a browser
func ShowCaptureGuide(w io.Writer) {
	rule := strings.Repeat("=", 80)
	lines := []string{
		rule,
		"CAPTURING AN INSTAGRAM SESSION",
		rule,
		"",
		"The crawler replays the requests your browser makes while you read",
		"comments. It needs the session cookies, a few request headers and the",
		"ids of the GraphQL queries the web app uses.",
		"",
		"STEP 1: Log in at https://www.instagram.com and open any post",
		"",
		"STEP 2: Open Developer Tools (F12, or Cmd+Option+I on Mac) and select",
		"        the Network tab, filtered to 'graphql'",
		"",
		"STEP 3: Scroll the comments and expand 'View replies' once",
		"",
		"STEP 4: Click one of the graphql requests and copy:",
		"   Cookies  sessionid, csrftoken, ds_user_id (rur is optional)",
		"   Headers  X-CSRFToken, X-IG-App-ID, X-IG-WWW-Claim, X-ASBD-ID",
		"",
		"STEP 5: From the request payload copy 'doc_id' for the comment list",
		"        and for the reply list into endpoints.comments.doc_id and",
		"        endpoints.comment_replies.doc_id in your config file",
		"",
		"TIPS:",
		"   - Copy the entire value after the '=' sign, without quotes",
		"   - Sessions expire; run 'igcomments auth login' again when requests",
		"     start failing with authentication errors",
		"",
		"SECURITY WARNING:",
		"   These cookies give full access to the account. Never share them.",
		"   Stored accounts are kept in the system keychain or an encrypted file.",
		rule,
		"",
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

// ShowQuickCaptureGuide writes a condensed version for experienced users
func ShowQuickCaptureGuide(w io.Writer) {
	fmt.Fprintln(w, "Quick guide: F12 -> Network -> filter 'graphql' -> open comments -> copy Cookie and X-* headers")
	fmt.Fprintln(w, "   Need: sessionid, csrftoken, ds_user_id")
	fmt.Fprintln(w, "   Store them with 'igcomments auth login' or set IG_SESSIONID, IG_CSRFTOKEN, IG_DS_USER_ID")
}

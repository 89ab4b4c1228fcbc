package ami

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Login authenticates against an already-started Client. When md5 is true
// it performs the MD5 challenge exchange (Action: Challenge, AuthType: MD5,
// then Action: Login with the computed Key); otherwise it sends the
// username and secret in the clear. It returns true iff the final
// response's Response field equals "Success" case-insensitively.
//
// Login is an ordinary caller of Publish: it holds no privileged access to
// the Client's internals.
func Login(c *Client, user, secret string, md5Auth bool) (bool, error) {
	if !md5Auth {
		resp, err := c.Publish(NewMessage("Login", "Username", user, "Secret", secret))
		if err != nil {
			return false, err
		}
		return strings.EqualFold(resp.Get("Response"), "Success"), nil
	}

	challengeResp, err := c.Publish(NewMessage("Challenge", "AuthType", "MD5"))
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(challengeResp.Get("Response"), "Success") {
		return false, nil
	}
	challenge := challengeResp.Get("Challenge")

	sum := md5.Sum([]byte(challenge + secret))
	key := hex.EncodeToString(sum[:])

	loginResp, err := c.Publish(NewMessage("Login",
		"AuthType", "MD5",
		"Username", user,
		"Key", key,
	))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(loginResp.Get("Response"), "Success"), nil
}

// Logoff sends Action: Logoff and returns true iff the response's Response
// field equals "Goodbye" case-insensitively.
func Logoff(c *Client) (bool, error) {
	resp, err := c.Publish(NewMessage("Logoff"))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(resp.Get("Response"), "Goodbye"), nil
}

package pgwire

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/cedrusdb/pgwire/pkg/buffer"
	"github.com/cedrusdb/pgwire/pkg/types"
)

// auth sub-codes carried inside the int32 body of an AuthenticationOk-family
// (`R`) message. https://www.postgresql.org/docs/current/protocol-message-formats.html
const (
	authOK                authSubCode = 0
	authKerberosV5         authSubCode = 2
	authCleartextPassword  authSubCode = 3
	authCryptPassword      authSubCode = 4
	authMD5Password        authSubCode = 5
	authSCMCredential      authSubCode = 6
	authGSS                authSubCode = 7
	authGSSContinue        authSubCode = 8
	authSSPI               authSubCode = 9
	authSASL               authSubCode = 10
)

type authSubCode int32

func (c authSubCode) name() string {
	switch c {
	case authKerberosV5:
		return "kerberosV5"
	case authCryptPassword:
		return "crypt"
	case authSCMCredential:
		return "scmCredential"
	case authGSS, authGSSContinue:
		return "gss"
	case authSSPI:
		return "sspi"
	case authSASL:
		return "sasl"
	default:
		return "unknown"
	}
}

// handleAuthMessage processes a single `R` message during the auth phase
// per §4.3. It returns the next handler state (unchanged unless
// AuthenticationOk was observed) and writes any required reply.
func (c *Conn) handleAuthMessage(reader *buffer.Reader, writer *buffer.Writer) (handlerState, error) {
	code, err := reader.GetInt32()
	if err != nil {
		return handlerAuth, err
	}

	switch authSubCode(code) {
	case authOK:
		return handlerInitializing, nil
	case authCleartextPassword:
		return handlerAuth, c.sendPassword(writer, c.password)
	case authMD5Password:
		salt, err := reader.GetBytes(4)
		if err != nil {
			return handlerAuth, err
		}

		hashed := md5Password(c.password, c.username, salt)
		return handlerAuth, c.sendPassword(writer, hashed)
	default:
		return handlerAuth, errUnsupportedAuthMethod(authSubCode(code).name())
	}
}

func (c *Conn) sendPassword(writer *buffer.Writer, password string) error {
	writer.Start(types.ClientPassword)
	writer.AddString(password)
	writer.AddNullTerminate()
	return writer.End()
}

// md5Password implements §8's MD5 auth round-trip:
// "md5" ++ hex(md5(hex(md5(password ++ username)) ++ salt))
func md5Password(password, username string, salt []byte) string {
	inner := md5.Sum([]byte(password + username))
	innerHex := hex.EncodeToString(inner[:])

	outer := md5.Sum([]byte(innerHex + string(salt)))
	return "md5" + hex.EncodeToString(outer[:])
}

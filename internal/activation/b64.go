package activation

import (
	"encoding/base64"

	"github.com/powerauth/activationserver/internal/apierror"
)

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apierror.New(apierror.InvalidInputFormat, "malformed base64 field")
	}
	return b, nil
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func errInvalidLayer2Payload(cause error) error {
	return apierror.Wrap(apierror.InvalidInputFormat, cause)
}

package activation

import "encoding/json"

// layer2Wire is the JSON shape of the decrypted layer-2 payload,
// {device_public_key, activation_name, extras}, device_public_key
// base64-encoded as required of arbitrary binary inside a JSON string.
type layer2Wire struct {
	DevicePublicKeyB64 string `json:"devicePublicKey"`
	ActivationName     string `json:"activationName"`
	Extras             string `json:"extras,omitempty"`
}

func parseLayerTwoJSON(plaintext []byte) (LayerTwoRequest, error) {
	var w layer2Wire
	if err := json.Unmarshal(plaintext, &w); err != nil {
		return LayerTwoRequest{}, errInvalidLayer2Payload(err)
	}
	devicePub, err := decodeBase64(w.DevicePublicKeyB64)
	if err != nil {
		return LayerTwoRequest{}, errInvalidLayer2Payload(err)
	}
	return LayerTwoRequest{
		DevicePublicKey: devicePub,
		ActivationName:  w.ActivationName,
		Extras:          w.Extras,
	}, nil
}

// EncodeLayerTwoResponse renders resp as the plaintext JSON body the
// caller must ECIES-encrypt under the same envelope the request was
// decrypted with, before returning it to the device.
func EncodeLayerTwoResponse(resp LayerTwoResponse) ([]byte, error) {
	return encodeLayerTwoJSON(resp)
}

func encodeLayerTwoJSON(resp LayerTwoResponse) ([]byte, error) {
	w := struct {
		ActivationID    string `json:"activationId"`
		CtrDataB64      string `json:"ctrData"`
		ServerPublicKey string `json:"serverPublicKey"`
		RecoveryCode    string `json:"recoveryCode,omitempty"`
		RecoveryPUK     string `json:"recoveryPuk,omitempty"`
	}{
		ActivationID:    resp.ActivationID,
		CtrDataB64:      encodeBase64(resp.CtrData),
		ServerPublicKey: encodeBase64(resp.ServerPublicKey),
	}
	if resp.RecoveryIncluded {
		w.RecoveryCode = resp.RecoveryCode
		w.RecoveryPUK = resp.RecoveryPUK
	}
	return json.Marshal(w)
}

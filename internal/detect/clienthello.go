package detect

import (
	"errors"

	"golang.org/x/crypto/cryptobyte"
)

const (
	recordTypeHandshake   = 0x16
	handshakeTypeClientHi = 0x01

	extensionServerName   = 0
	serverNameTypeHostname = 0
)

// parseClientHelloSNI walks a buffered TLS record looking for a complete
// ClientHello handshake message and extracts its server_name extension,
// if any. It returns errIncomplete if buf doesn't yet hold a full
// ClientHello, or a non-nil, non-errIncomplete error if buf is
// conclusively not a TLS ClientHello.
func parseClientHelloSNI(buf []byte) (string, error) {
	s := cryptobyte.String(buf)

	var recordType uint8
	var legacyVersion uint16
	if !s.ReadUint8(&recordType) || !s.ReadUint16(&legacyVersion) {
		return "", errIncomplete
	}
	if recordType != recordTypeHandshake {
		return "", errors.New("detect: not a handshake record")
	}

	var record cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&record) {
		return "", errIncomplete
	}

	var handshakeType uint8
	if !record.ReadUint8(&handshakeType) {
		return "", errIncomplete
	}
	if handshakeType != handshakeTypeClientHi {
		return "", errors.New("detect: not a ClientHello")
	}

	var body cryptobyte.String
	if !readUint24LengthPrefixed(&record, &body) {
		return "", errIncomplete
	}

	var clientVersion uint16
	var random []byte
	if !body.ReadUint16(&clientVersion) || !body.ReadBytes(&random, 32) {
		return "", errIncomplete
	}

	var sessionID cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&sessionID) {
		return "", errIncomplete
	}

	var cipherSuites cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&cipherSuites) {
		return "", errIncomplete
	}

	var compressionMethods cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&compressionMethods) {
		return "", errIncomplete
	}

	if body.Empty() {
		// No extensions: legal ClientHello, just no SNI.
		return "", nil
	}

	var extensions cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&extensions) {
		return "", errIncomplete
	}

	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return "", errIncomplete
		}
		if extType != extensionServerName {
			continue
		}
		sni, err := parseServerNameExtension(extData)
		if err != nil {
			return "", err
		}
		return sni, nil
	}

	return "", nil
}

func parseServerNameExtension(extData cryptobyte.String) (string, error) {
	var serverNameList cryptobyte.String
	if !extData.ReadUint16LengthPrefixed(&serverNameList) {
		return "", errIncomplete
	}
	for !serverNameList.Empty() {
		var nameType uint8
		var name cryptobyte.String
		if !serverNameList.ReadUint8(&nameType) || !serverNameList.ReadUint16LengthPrefixed(&name) {
			return "", errIncomplete
		}
		if nameType == serverNameTypeHostname {
			return string(name), nil
		}
	}
	return "", nil
}

// readUint24LengthPrefixed reads a 24-bit big-endian length prefix
// followed by that many bytes — TLS handshake bodies use this width,
// which cryptobyte.String has no built-in helper for.
func readUint24LengthPrefixed(s *cryptobyte.String, out *cryptobyte.String) bool {
	var lenBytes []byte
	if !s.ReadBytes(&lenBytes, 3) {
		return false
	}
	length := int(lenBytes[0])<<16 | int(lenBytes[1])<<8 | int(lenBytes[2])
	var body []byte
	if !s.ReadBytes(&body, length) {
		return false
	}
	*out = cryptobyte.String(body)
	return true
}

// SPDX-License-Identifier: GPL-3.0-or-later

//
// Application protocol codec.
//
// Requests and responses are compact textual payloads: a verb ending
// in '?' (request) or '!' (response) followed by arguments. Arguments
// that may repeat are ';'-separated; identifier lists use ','.
//

package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dronemesh-project/dronemesh/packet"
)

const (
	verbServerType    = "server_type?"
	verbServerTypeOK  = "server_type!"
	verbFileList      = "files_list?"
	verbFileListOK    = "files_list!"
	verbFile          = "file?"
	verbFileOK        = "file!"
	verbNoFile        = "error_no_file!"
	verbRegister      = "registration_to_chat?"
	verbRegisterOK    = "registration_ok!"
	verbClientList    = "client_list?"
	verbClientListOK  = "client_list!"
	verbMessageFor    = "message_for?"
	verbMessageSent   = "message_sent!"
	verbWrongClientID = "error_wrong_client_id!"
	verbMessageFrom   = "message_from?"
	verbUnsupported   = "unsupported_request!"
)

// ServerTypeText and ServerTypeChat are the server-type handshake answers.
const (
	ServerTypeText = "text"
	ServerTypeChat = "chat"
)

// encodeFileRequest encodes a file retrieval request.
func encodeFileRequest(fileID string) []byte {
	return []byte(verbFile + fileID)
}

// encodeFileResponse encodes a file retrieval response. The file
// identifier must not contain ';'.
func encodeFileResponse(fileID string, data []byte) []byte {
	return append([]byte(verbFileOK+fileID+";"), data...)
}

// decodeFileResponse splits a file retrieval response into its
// identifier and content.
func decodeFileResponse(body []byte) (string, []byte, error) {
	idx := strings.IndexByte(string(body), ';')
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: missing file separator", ErrUnexpectedResponse)
	}
	return string(body[:idx]), body[idx+1:], nil
}

// encodeFileList encodes a file-list response.
func encodeFileList(ids []string) []byte {
	return []byte(verbFileListOK + strings.Join(ids, ","))
}

// decodeFileList decodes a file-list response body.
func decodeFileList(body string) []string {
	if body == "" {
		return nil
	}
	return strings.Split(body, ",")
}

// encodeChatMessage encodes a peer-addressed chat message request.
func encodeChatMessage(to packet.NodeID, text string) []byte {
	return []byte(fmt.Sprintf("%s%d;%s", verbMessageFor, to, text))
}

// decodeChatAddress splits a "<node>;<text>" body.
func decodeChatAddress(body string) (packet.NodeID, string, error) {
	idx := strings.IndexByte(body, ';')
	if idx < 0 {
		return 0, "", fmt.Errorf("%w: missing chat separator", ErrUnexpectedResponse)
	}
	id, err := strconv.ParseUint(body[:idx], 10, 8)
	if err != nil {
		return 0, "", fmt.Errorf("%w: bad node id %q", ErrUnexpectedResponse, body[:idx])
	}
	return packet.NodeID(id), body[idx+1:], nil
}

// encodeChatDelivery encodes the server-to-recipient push of a chat message.
func encodeChatDelivery(from packet.NodeID, text string) []byte {
	return []byte(fmt.Sprintf("%s%d;%s", verbMessageFrom, from, text))
}

// encodeClientList encodes a registered-client-list response.
func encodeClientList(ids []packet.NodeID) []byte {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(int(id)))
	}
	return []byte(verbClientListOK + strings.Join(parts, ","))
}

// decodeClientList decodes a registered-client-list response body.
func decodeClientList(body string) ([]packet.NodeID, error) {
	if body == "" {
		return nil, nil
	}
	var ids []packet.NodeID
	for _, part := range strings.Split(body, ",") {
		id, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: bad node id %q", ErrUnexpectedResponse, part)
		}
		ids = append(ids, packet.NodeID(id))
	}
	return ids, nil
}

// splitVerb splits a payload into its verb and body. Verbs end at the
// first '?' or '!', included.
func splitVerb(payload []byte) (string, []byte) {
	for idx, ch := range payload {
		if ch == '?' || ch == '!' {
			return string(payload[:idx+1]), payload[idx+1:]
		}
	}
	return string(payload), nil
}

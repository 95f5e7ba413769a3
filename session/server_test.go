// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"testing"

	"github.com/dronemesh-project/dronemesh/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextServerHandle(t *testing.T) {
	srv := NewTextServer()
	srv.AddFile("readme", []byte("hello"))
	srv.AddFile("notes", []byte("a;b;c"))

	t.Run("server type", func(t *testing.T) {
		reply, deliveries := srv.Handle(1, []byte(verbServerType))
		assert.Equal(t, verbServerTypeOK+ServerTypeText, string(reply))
		assert.Empty(t, deliveries)
	})

	t.Run("files list", func(t *testing.T) {
		reply, _ := srv.Handle(1, []byte(verbFileList))
		assert.Equal(t, verbFileListOK+"notes,readme", string(reply))
	})

	t.Run("file content may contain the separator", func(t *testing.T) {
		reply, _ := srv.Handle(1, encodeFileRequest("notes"))
		verb, body := splitVerb(reply)
		require.Equal(t, verbFileOK, verb)
		fileID, data, err := decodeFileResponse(body)
		require.NoError(t, err)
		assert.Equal(t, "notes", fileID)
		assert.Equal(t, []byte("a;b;c"), data)
	})

	t.Run("missing file", func(t *testing.T) {
		reply, _ := srv.Handle(1, encodeFileRequest("nonesuch"))
		assert.Equal(t, verbNoFile+"nonesuch", string(reply))
	})

	t.Run("unsupported verb", func(t *testing.T) {
		reply, _ := srv.Handle(1, []byte("registration_to_chat?"))
		assert.Equal(t, verbUnsupported, string(reply))
	})
}

func TestChatServerHandle(t *testing.T) {
	srv := NewChatServer()

	t.Run("server type", func(t *testing.T) {
		reply, _ := srv.Handle(1, []byte(verbServerType))
		assert.Equal(t, verbServerTypeOK+ServerTypeChat, string(reply))
	})

	t.Run("registration", func(t *testing.T) {
		assert.False(t, srv.Registered(1))
		reply, _ := srv.Handle(1, []byte(verbRegister))
		assert.Equal(t, verbRegisterOK, string(reply))
		assert.True(t, srv.Registered(1))
	})

	t.Run("message from an unregistered sender", func(t *testing.T) {
		reply, deliveries := srv.Handle(9, encodeChatMessage(1, "hi"))
		assert.Equal(t, verbWrongClientID+"9", string(reply))
		assert.Empty(t, deliveries)
	})

	t.Run("message to an unregistered recipient", func(t *testing.T) {
		reply, deliveries := srv.Handle(1, encodeChatMessage(7, "hi"))
		assert.Equal(t, verbWrongClientID+"7", string(reply))
		assert.Empty(t, deliveries)
	})

	t.Run("message between registered clients", func(t *testing.T) {
		srv.Handle(2, []byte(verbRegister))
		reply, deliveries := srv.Handle(1, encodeChatMessage(2, "hi;there"))
		assert.Equal(t, verbMessageSent, string(reply))
		require.Len(t, deliveries, 1)
		assert.Equal(t, packet.NodeID(2), deliveries[0].To)
		assert.Equal(t, verbMessageFrom+"1;hi;there", string(deliveries[0].Payload))
	})

	t.Run("client list", func(t *testing.T) {
		reply, _ := srv.Handle(1, []byte(verbClientList))
		assert.Equal(t, verbClientListOK+"1,2", string(reply))
	})
}

func TestProtocolCodec(t *testing.T) {
	t.Run("split verb", func(t *testing.T) {
		verb, body := splitVerb([]byte("file?some;id"))
		assert.Equal(t, "file?", verb)
		assert.Equal(t, "some;id", string(body))

		verb, body = splitVerb([]byte("noverb"))
		assert.Equal(t, "noverb", verb)
		assert.Nil(t, body)
	})

	t.Run("empty file list", func(t *testing.T) {
		assert.Nil(t, decodeFileList(""))
	})

	t.Run("chat address", func(t *testing.T) {
		from, text, err := decodeChatAddress("12;hello;world")
		require.NoError(t, err)
		assert.Equal(t, packet.NodeID(12), from)
		assert.Equal(t, "hello;world", text)

		_, _, err = decodeChatAddress("nosep")
		assert.ErrorIs(t, err, ErrUnexpectedResponse)

		_, _, err = decodeChatAddress("999;too big")
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
	})

	t.Run("client list", func(t *testing.T) {
		ids, err := decodeClientList("1,2,3")
		require.NoError(t, err)
		assert.Equal(t, []packet.NodeID{1, 2, 3}, ids)

		ids, err = decodeClientList("")
		require.NoError(t, err)
		assert.Nil(t, ids)

		_, err = decodeClientList("1,bogus")
		assert.ErrorIs(t, err, ErrUnexpectedResponse)
	})
}

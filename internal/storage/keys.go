package storage

import (
	"encoding/binary"
	"strings"
)

// Key prefixes for different record types. Index keys carry no value; the
// referenced id is the last key segment.
const (
	documentPrefix       = "doc:"
	documentStatusPrefix = "docstatus:"
	documentHashPrefix   = "dochash:"
	documentScopePrefix  = "docscope:"
	chunkPrefix          = "chunk:"
	sessionPrefix        = "session:"
	sessionDocPrefix     = "sessdoc:"
	messagePrefix        = "msg:"
	messageSeq           = "seq:msg"
	notePrefix           = "note:"
	noteDocPrefix        = "notedoc:"
	orphanPrefix         = "orphan:"
)

func join(parts ...string) []byte {
	return []byte(strings.Join(parts, ":"))
}

func makeDocumentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

func makeDocumentStatusKey(status Status, id string) []byte {
	return append([]byte(documentStatusPrefix), join(string(status), id)...)
}

func makeDocumentStatusPrefix(status Status) []byte {
	return []byte(documentStatusPrefix + string(status) + ":")
}

// Format: dochash:userID:hash:docID
func makeDocumentHashKey(userID, hash, id string) []byte {
	return append([]byte(documentHashPrefix), join(userID, hash, id)...)
}

func makeDocumentHashPrefix(userID, hash string) []byte {
	return append([]byte(documentHashPrefix), join(userID, hash, "")...)
}

// Format: docscope:scope:docID
func makeDocumentScopeKey(scope, id string) []byte {
	return append([]byte(documentScopePrefix), join(scope, id)...)
}

func makeDocumentScopePrefix(scope string) []byte {
	return append([]byte(documentScopePrefix), join(scope, "")...)
}

// makeChunkKey orders chunks by ordinal within a document.
// Format: chunk:docID:ordinal(BigEndian uint32)
func makeChunkKey(documentID string, ordinal int) []byte {
	prefix := makeChunkPrefix(documentID)
	buf := make([]byte, len(prefix)+4)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint32(buf[offset:], uint32(ordinal))
	return buf
}

func makeChunkPrefix(documentID string) []byte {
	return []byte(chunkPrefix + documentID + ":")
}

func makeSessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func makeSessionDocKey(documentID, sessionID string) []byte {
	return append([]byte(sessionDocPrefix), join(documentID, sessionID)...)
}

func makeSessionDocPrefix(documentID string) []byte {
	return []byte(sessionDocPrefix + documentID + ":")
}

// makeMessageKey orders messages by sequence within a session.
// Format: msg:sessionID:seq(BigEndian uint64)
func makeMessageKey(sessionID string, seq uint64) []byte {
	prefix := makeMessagePrefix(sessionID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

func makeMessagePrefix(sessionID string) []byte {
	return []byte(messagePrefix + sessionID + ":")
}

func makeNoteKey(id string) []byte {
	return []byte(notePrefix + id)
}

func makeNoteDocKey(documentID, noteID string) []byte {
	return append([]byte(noteDocPrefix), join(documentID, noteID)...)
}

func makeNoteDocPrefix(documentID string) []byte {
	return []byte(noteDocPrefix + documentID + ":")
}

func makeOrphanKey(scope string) []byte {
	return []byte(orphanPrefix + scope)
}

// lastSegment returns the id at the end of an index key.
func lastSegment(key []byte) string {
	s := string(key)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

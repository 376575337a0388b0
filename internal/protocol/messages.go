// Package protocol defines the external message types spec §6 names
// and the codec used to exchange them. Local control-plane calls
// (CompileMessage, QueryMessage) speak net/rpc over jsonrpc on a unix
// socket, exactly as the teacher's test/client.go dials
// "/tmp/navc.sock" and wraps the connection in
// jsonrpc.NewClientCodec. Cluster messages (JobRequestMessage and
// friends) ride the same codec over TCP.
package protocol

import (
	"navc/internal/indexjob"
)

// CompileMessage admits a compile command, spec §6.
type CompileMessage struct {
	Args    []string
	Cwd     string
	Project string
}

// QueryType enumerates the QueryMessage variants spec §6 lists.
type QueryType int

const (
	QuerySources QueryType = iota
	QueryFollowLocation
	QueryReferencesLocation
	QueryReferencesName
	QueryListSymbols
	QueryFindSymbols
	QueryCursorInfo
	QueryDependencies
	QueryFixIts
	QueryFindFile
	QueryDumpFile
	QueryIsIndexed
	QueryIsIndexing
	QueryStatus
	QueryPreprocessFile
	QueryCodeCompleteAt
	QueryPrepareCodeCompleteAt
	QueryReindex
	QueryRemoveFile
	QueryDeleteProject
	QueryUnloadProject
	QueryReloadProjects
	QueryProject
	QueryJobCount
	QueryClearProjects
	QueryReloadFileManager
	QueryHasFileManager
	QuerySuspendFile
	QuerySendDiagnostics
	QueryMulticastForward
	QueryRemoveMulticastForward
	QueryLoadCompilationDatabase
	QueryShutdown
)

// QueryFlag modifiers, orthogonal to QueryType (e.g. output formatting).
type QueryFlag uint32

const (
	FlagNone QueryFlag = 0
	FlagElispList QueryFlag = 1 << iota
)

// QueryMessage is the general daemon request envelope, spec §6.
type QueryMessage struct {
	Type    QueryType
	Payload string
	Flags   QueryFlag
}

// QueryResponse carries the plain-text or structured reply to a
// QueryMessage; Lines holds one entry per output line, matching the
// teacher's connection.write-per-line idiom.
type QueryResponse struct {
	Lines []string
	Err   string
}

// IndexerMessage is what a spawned indexer reports back (spec §4.E,
// §6): the completed IndexData for one job.
type IndexerMessage struct {
	Project string
	Data    *indexjob.IndexData
}

// VisitFileMessage asks whether fileId should be visited for this job
// (spec §4.E, invariant 4).
type VisitFileMessage struct {
	Project string
	File    string
	JobKey  uint64
}

// VisitFileResponseMessage answers a VisitFileMessage.
type VisitFileResponseMessage struct {
	FileID       uint32
	ResolvedPath string
	Visit        bool
}

// CreateOutputMessage subscribes the connection to log output at or
// above Level (spec §6).
type CreateOutputMessage struct {
	Level int
}

// JobRequestMessage asks a peer for up to Count remote jobs (spec
// §4.F Remote pull).
type JobRequestMessage struct {
	Count int
}

// SerializedJob is the wire form of an indexjob.Job handed to a peer:
// enough state to reconstitute a Job on the receiving side, including
// the preprocessed Cpp so the peer need not re-preprocess.
type SerializedJob struct {
	ID           uint64
	Project      string
	SourceFile   string
	Compiler     string
	Args         []string
	BuildRoot    string
	CppText      string
	Flags        indexjob.Flags
	BlockedFiles map[uint32]bool
}

// JobResponseMessage carries one pulled job back to the requester
// (spec §4.F, §6).
type JobResponseMessage struct {
	Job     SerializedJob
	TCPPort uint16
}

// MulticastForwardMessage relays a raw multicast payload between
// forward peers (spec §4.G). IP/Port are empty/zero when the sender
// is the forwarder's own announcement; the receiver fills them in from
// the TCP peer address.
type MulticastForwardMessage struct {
	IP      string
	Port    uint16
	Payload []byte
}

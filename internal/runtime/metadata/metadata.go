package metadata

import "strconv"

// Metadata represents the headers carried alongside a task message.
type Metadata map[string]string

// Well-known keys stamped on published and dead-lettered tasks.
const (
	KeyTaskKind      = "task_kind"
	KeyCorrelationID = "correlation_id"

	KeyDLQOriginalTopic = "dlq_original_topic"
	KeyDLQError         = "dlq_error"
	KeyDLQPartition     = "dlq_partition"
	KeyDLQOffset        = "dlq_offset"
)

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// DeadLetter returns a clone annotated with where a failed task came from.
func (m Metadata) DeadLetter(topic string, partition int32, offset int64, cause error) Metadata {
	cloned := m.cloneWithExtra(4)
	cloned[KeyDLQOriginalTopic] = topic
	cloned[KeyDLQPartition] = strconv.FormatInt(int64(partition), 10)
	cloned[KeyDLQOffset] = strconv.FormatInt(offset, 10)
	if cause != nil {
		cloned[KeyDLQError] = cause.Error()
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

package constants

// MaxUploadSize is the maximum probe image upload size in bytes (20MB)
const MaxUploadSize = 20 << 20

// Job constants
const (
	// MaxStoredJobs is the number of comparison jobs kept in memory
	MaxStoredJobs = 50

	// EventChannelBuffer is the buffer size of each job event listener
	EventChannelBuffer = 100
)

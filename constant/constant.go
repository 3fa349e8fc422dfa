package constant

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions may happen from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// LanguageAuto lets the transcription capability detect the spoken language.
const LanguageAuto = "auto"

type TranscriptFormat string

const (
	TranscriptFormatText     TranscriptFormat = "text"
	TranscriptFormatFull     TranscriptFormat = "full"
	TranscriptFormatSegments TranscriptFormat = "segments"
)

type QueueDriver string

const (
	QueueDriverMemory   QueueDriver = "memory"
	QueueDriverRabbitMQ QueueDriver = "rabbitmq"
)

type DatabaseDriver string

const (
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
)

type TranscriberBackend string

const (
	TranscriberBackendWhisperCPP TranscriberBackend = "whisper_cpp"
	TranscriberBackendOpenAI     TranscriberBackend = "openai"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

package storage

type NoopCloudStorage struct{}

func NewNoopCloudStorage() *NoopCloudStorage { return &NoopCloudStorage{} }

func (*NoopCloudStorage) Save(string, string) error   { return nil }
func (*NoopCloudStorage) Load(string) ([]byte, error) { return nil, ErrNoStorage }
func (*NoopCloudStorage) IsNoop() bool                { return true }

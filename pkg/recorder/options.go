package recorder

type Options struct {
	Dir      string
	Name     string
	MixRate  int
	MicRate  int
	Channels int
	Zip      bool
}

type Meta struct {
	Room string
	User string
}

package seed

// File is the top-level structure of the seed file
//
//	instances:
//	  - url: https://privatebin.net
//	  - url: https://meet.example.org
//	    variant: jitsi
type File struct {
	Instances []Entry `yaml:"instances"`
}

// Entry is one instance to register on startup
type Entry struct {
	URL     string `yaml:"url"`
	Variant string `yaml:"variant,omitempty"` // privatebin (default) or jitsi
}

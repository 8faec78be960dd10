package graph

import "gopkg.in/yaml.v3"

func yamlRoundTrip(data string, out *File) error {
	return yaml.Unmarshal([]byte(data), out)
}

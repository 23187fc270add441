package supervisor

import "fmt"

// selectServices implements §4.3's `<selector>` grammar: `service <name>`,
// `tag <tag>`, or `all`. Returns the matching services (possibly empty for
// a tag with no members) or an arity/unknown-selector error.
func (c *Controller) selectServices(args []string) ([]*Service, error) {
	if len(args) == 0 {
		return nil, errf("selector required: service <name> | tag <tag> | all")
	}

	switch args[0] {
	case "all":
		if len(args) != 1 {
			return nil, errf("selector \"all\" takes no arguments")
		}
		out := make([]*Service, 0, len(c.services))
		for _, svc := range c.services {
			out = append(out, svc)
		}
		return out, nil

	case "service":
		if len(args) != 2 {
			return nil, errf("selector \"service\" requires exactly one name")
		}
		svc, ok := c.services[args[1]]
		if !ok {
			return nil, errf(fmt.Sprintf("no such service %q", args[1]))
		}
		return []*Service{svc}, nil

	case "tag":
		if len(args) != 2 {
			return nil, errf("selector \"tag\" requires exactly one tag")
		}
		out := make([]*Service, 0)
		for _, svc := range c.services {
			if _, ok := svc.tags[args[1]]; ok {
				out = append(out, svc)
			}
		}
		return out, nil

	default:
		return nil, errf(fmt.Sprintf("unknown selector %q", args[0]))
	}
}

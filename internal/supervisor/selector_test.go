package supervisor

import (
	"testing"

	"go.uber.org/zap"
)

func newTestController() *Controller {
	return New(zap.NewNop(), nil, zap.NewAtomicLevel())
}

func TestSelectServicesAll(t *testing.T) {
	c := newTestController()
	c.services["a"] = newService("a", c.log)
	c.services["b"] = newService("b", c.log)

	got, err := c.selectServices([]string{"all"})
	if err != nil {
		t.Fatalf("selectServices(all) error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("selectServices(all) returned %d services, want 2", len(got))
	}
}

func TestSelectServicesAllRejectsArgs(t *testing.T) {
	c := newTestController()
	if _, err := c.selectServices([]string{"all", "extra"}); err == nil {
		t.Fatal("selectServices(all, extra) should error")
	}
}

func TestSelectServicesByName(t *testing.T) {
	c := newTestController()
	svc := newService("a", c.log)
	c.services["a"] = svc

	got, err := c.selectServices([]string{"service", "a"})
	if err != nil {
		t.Fatalf("selectServices(service a) error: %v", err)
	}
	if len(got) != 1 || got[0] != svc {
		t.Fatalf("selectServices(service a) = %v, want [%v]", got, svc)
	}

	if _, err := c.selectServices([]string{"service", "nope"}); err == nil {
		t.Fatal("selectServices(service nope) should error for unknown name")
	}
}

func TestSelectServicesByTag(t *testing.T) {
	c := newTestController()
	a := newService("a", c.log)
	a.tags["web"] = struct{}{}
	b := newService("b", c.log)
	c.services["a"] = a
	c.services["b"] = b

	got, err := c.selectServices([]string{"tag", "web"})
	if err != nil {
		t.Fatalf("selectServices(tag web) error: %v", err)
	}
	if len(got) != 1 || got[0] != a {
		t.Fatalf("selectServices(tag web) = %v, want [%v]", got, a)
	}

	got, err = c.selectServices([]string{"tag", "nope"})
	if err != nil {
		t.Fatalf("selectServices(tag nope) error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("selectServices(tag nope) = %v, want empty", got)
	}
}

func TestSelectServicesUnknownSelector(t *testing.T) {
	c := newTestController()
	if _, err := c.selectServices([]string{"bogus"}); err == nil {
		t.Fatal("selectServices(bogus) should error")
	}
}

func TestSelectServicesEmptyArgs(t *testing.T) {
	c := newTestController()
	if _, err := c.selectServices(nil); err == nil {
		t.Fatal("selectServices() with no args should error")
	}
}

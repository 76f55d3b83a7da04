package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeModule struct {
	name     string
	priority int
	calls    *[]string
}

func (m *fakeModule) Name() string  { return m.name }
func (m *fakeModule) Priority() int { return m.priority }
func (m *fakeModule) Init(ctx *ModuleContext) error {
	*m.calls = append(*m.calls, "init:"+m.name)
	return nil
}

type fakeBackgroundModule struct {
	fakeModule
}

func (m *fakeBackgroundModule) Shutdown() {
	*m.calls = append(*m.calls, "stop:"+m.name)
}

func TestInitAndShutdownOrder(t *testing.T) {
	prev := moduleRegistry
	moduleRegistry = make(map[string]Module)
	t.Cleanup(func() { moduleRegistry = prev })

	var calls []string
	Register(&fakeBackgroundModule{fakeModule{name: "second", priority: 20, calls: &calls}})
	Register(&fakeModule{name: "first", priority: 10, calls: &calls})

	assert.NoError(t, InitModules(&ModuleContext{}))
	ShutdownModules()

	// init by ascending priority, shutdown in reverse; modules
	// without background tasks are skipped on the way down
	assert.Equal(t, []string{"init:first", "init:second", "stop:second"}, calls)
}

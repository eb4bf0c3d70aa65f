package service

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "service")

// Verbs the registry accepts routes for.
var supportedVerbs = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// Registry resolves (verb, path) of an incoming request to the method
// descriptor governing it. Built once per Service descriptor and read-only
// afterwards, so lookups from concurrent request handlers need no locking.
type Registry struct {
	serviceName string
	router      *mux.Router
	infos       map[string]*MethodInfo
}

// NewRegistry compiles the descriptor's HTTP rules into a matcher. Rules
// with unsupported verbs are skipped with a warning; a descriptor that
// fails validation is a configuration error.
func NewRegistry(svc *Service) (*Registry, error) {
	if err := svc.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid service descriptor")
	}
	infos := svc.methodInfos()
	router := mux.NewRouter()
	for _, rule := range svc.HTTPRules {
		verb := strings.ToUpper(rule.Verb)
		if !supportedVerbs[verb] {
			log.WithFields(logrus.Fields{
				"selector": rule.Selector,
				"verb":     rule.Verb,
			}).Warn("Skipping HTTP rule with unsupported verb")
			continue
		}
		info := infos[rule.Selector]
		router.Path(rule.Template).Methods(verb).Handler(methodHandler{info: info})
	}
	return &Registry{
		serviceName: svc.Name,
		router:      router,
		infos:       infos,
	}, nil
}

// methodHandler only carries the method info through mux route matching; it
// is never invoked as an HTTP handler.
type methodHandler struct {
	info *MethodInfo
}

func (methodHandler) ServeHTTP(http.ResponseWriter, *http.Request) {}

// ServiceName returns the name of the service the registry was built from.
func (r *Registry) ServiceName() string {
	return r.serviceName
}

// Lookup returns the method descriptor for the given verb and URL path, or
// nil when no rule matches. A single trailing slash is tolerated:
// "/v1/shelves/1/" matches the template "/v1/shelves/{shelf}".
func (r *Registry) Lookup(verb, path string) *MethodInfo {
	if info := r.match(verb, path); info != nil {
		return info
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return r.match(verb, strings.TrimSuffix(path, "/"))
	}
	return nil
}

func (r *Registry) match(verb, path string) *MethodInfo {
	req := &http.Request{
		Method: strings.ToUpper(verb),
		URL:    &url.URL{Path: path},
	}
	var m mux.RouteMatch
	if !r.router.Match(req, &m) || m.MatchErr != nil {
		return nil
	}
	h, ok := m.Handler.(methodHandler)
	if !ok {
		return nil
	}
	return h.info
}

// Info returns the method descriptor for a selector, independent of any
// HTTP rule. Used for methods reachable over non-HTTP surfaces.
func (r *Registry) Info(selector string) *MethodInfo {
	return r.infos[selector]
}

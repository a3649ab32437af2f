package command

import "strings"

// Service 是领域下的一项服务。
type Service struct {
	Verb        string
	Description string
}

// Domain 是带固定子命令表的业务领域。
type Domain struct {
	Name     string
	Title    string
	Services []Service
}

var domains = []Domain{
	{
		Name:  "tax",
		Title: "Tax",
		Services: []Service{
			{"advice", "Get professional tax advice with ASL explanations"},
			{"planning", "Access tax optimization strategies"},
			{"filing", "File taxes online with ASL guidance"},
			{"deductions", "Find eligible tax deductions"},
			{"credits", "Explore available tax credits"},
			{"calculators", "Use tax calculators"},
			{"forms", "Access and download tax forms"},
		},
	},
	{
		Name:  "financial",
		Title: "Financial",
		Services: []Service{
			{"advice", "Get professional investment advice"},
			{"options", "Explore investment options"},
			{"planning", "Financial planning assistance"},
			{"retirement", "Retirement planning services"},
			{"wealth", "Wealth management services"},
			{"estate", "Estate planning information"},
			{"tools", "Financial calculators and tools"},
			{"analysis", "Market analysis and trends"},
		},
	},
	{
		Name:  "insurance",
		Title: "Insurance",
		Services: []Service{
			{"advice", "Get professional insurance advice"},
			{"options", "View insurance coverage options"},
			{"claims", "Insurance claims assistance"},
			{"review", "Policy review for optimization"},
			{"assessment", "Coverage needs assessment"},
			{"risk", "Risk management strategies"},
		},
	},
	{
		Name:  "business",
		Title: "Business",
		Services: []Service{
			{"advice", "Professional business advice and guidance"},
			{"planning", "Business planning and development"},
			{"startup", "Startup consulting services"},
			{"legal", "Legal advice for business matters"},
			{"analysis", "Financial analysis for business decisions"},
			{"marketing", "Marketing strategies for growth"},
			{"partnerships", "Partnership opportunities"},
		},
	},
}

func domainByName(name string) (Domain, bool) {
	for _, d := range domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}

// Lookup 返回子命令对应的服务。
func (d Domain) Lookup(verb string) (Service, bool) {
	for _, s := range d.Services {
		if s.Verb == verb {
			return s, true
		}
	}
	return Service{}, false
}

// ServiceTitle 返回形如 "Tax Advice" 的服务名称。
func (d Domain) ServiceTitle(s Service) string {
	return d.Title + " " + strings.ToUpper(s.Verb[:1]) + s.Verb[1:]
}

func (d Domain) verbs() []string {
	out := make([]string, 0, len(d.Services))
	for _, s := range d.Services {
		out = append(out, s.Verb)
	}
	return out
}

func (d Domain) descriptions() map[string]string {
	out := make(map[string]string, len(d.Services))
	for _, s := range d.Services {
		out[s.Verb] = s.Description
	}
	return out
}

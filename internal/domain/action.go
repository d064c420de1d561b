package domain

// HomePath is where every failure path lands.
const HomePath = "/"

// Action is the navigation decision produced once a call has finished.
type Action struct {
	Path   string `json:"path"`
	Reason string `json:"reason,omitempty"`
}

func InterviewPath(id string) string { return "/interview/" + id }

func FeedbackPath(interviewID string) string { return "/interview/" + interviewID + "/feedback" }

func NavigateHome(reason string) Action {
	return Action{Path: HomePath, Reason: reason}
}

func NavigateInterview(id string) Action {
	return Action{Path: InterviewPath(id), Reason: "interview generated"}
}

func NavigateFeedback(interviewID string) Action {
	return Action{Path: FeedbackPath(interviewID), Reason: "feedback ready"}
}

func (a Action) IsHome() bool { return a.Path == HomePath }

package recovery

import (
	"fmt"
	"strings"
)

const (
	notFoundSampleShown  = 5
	ambiguousNamesShown  = 3
	malformedAmountReply = "Could you specify the exact monthly EMI amount you can afford? For example, '10000' or '12000'."
)

// Render turns a Response into the sentence the speaker says.
func Render(r Response) string {
	v := r.Values
	emi := FormatRupees(v.EMI)

	switch r.Directive {
	case DirectiveOperatorPrompt:
		return "Hello! Which customer would you like me to process?"
	case DirectiveProfileFoundDefaulter:
		return fmt.Sprintf("Found customer: %s. Status: Defaulter with %s of %s, overdue for %d days. Ready to call %s. Just say 'start the call' when you're ready.",
			v.CustomerName, v.LoanType, FormatRupees(v.LoanAmount), v.DaysOverdue, v.CustomerName)
	case DirectiveProfileGoodStanding:
		return fmt.Sprintf("Found customer: %s. Status: %s. This customer's %s account appears to be in good standing.",
			v.CustomerName, v.Status, v.LoanType)
	case DirectiveProfileNotFound:
		sample := "various customers"
		if len(v.Candidates) > 0 {
			sample = strings.Join(firstN(v.Candidates, notFoundSampleShown), ", ")
		}
		return fmt.Sprintf("I couldn't find a customer with that name. Could you check the spelling? For example, I have records for: %s.", sample)
	case DirectiveProfileAmbiguous:
		return fmt.Sprintf("I found multiple customers with similar names: %s. Could you provide the full name?",
			strings.Join(firstN(v.Candidates, ambiguousNamesShown), ", "))
	case DirectiveLookupFailed:
		return "Unable to search customer database at this time."
	case DirectiveAwaitCallStart:
		return fmt.Sprintf("%s's account is ready. Say 'start the call' when you want me to connect.", v.CustomerName)
	case DirectiveCallAlreadyStarted:
		return "The call has already been initiated."
	case DirectiveCallOpening:
		return fmt.Sprintf("Hello, am I speaking with %s? This is %s calling from the Loan Recovery Department. I'm calling regarding your %s account. I can see the account has been overdue for %d days now. Can you tell me about your current financial situation? What's preventing you from making the payments?",
			v.CustomerName, v.AgentName, v.LoanType, v.DaysOverdue)
	case DirectiveAckProbe:
		return fmt.Sprintf("Thank you %s. I understand financial situations can be challenging, and I'm here to help. Could you share what's been making it difficult to keep up with the %s monthly payments?",
			v.CustomerName, emi)
	case DirectiveHardshipEmpathy:
		return fmt.Sprintf("I'm really sorry to hear that, %s. Would you be able to make even a partial payment to show good faith? Any amount would help your account.",
			v.CustomerName)
	case DirectiveTimeRequestDate:
		return fmt.Sprintf("I understand you need time, %s. However, the account has been overdue for %d days. Can you commit to a specific date this month for payment? I want to help you avoid further action.",
			v.CustomerName, v.DaysOverdue)
	case DirectiveCommitmentClose:
		return fmt.Sprintf("That's wonderful, %s! Thank you for your commitment. Please ensure the %s payment is made by the date you mentioned. You'll receive a confirmation SMS shortly. We really appreciate your cooperation!",
			v.CustomerName, emi)
	case DirectiveEscalateHold:
		return fmt.Sprintf("I understand %s is challenging for your current situation, %s. Let me connect you with my senior manager who has the authority to discuss restructuring options. Please hold for a moment...",
			emi, v.CustomerName)
	case DirectiveInfoDetails:
		return fmt.Sprintf("Your monthly EMI is %s. The total loan amount was %s. You're currently %d days overdue. Can you make this payment soon?",
			emi, FormatRupees(v.LoanAmount), v.DaysOverdue)
	case DirectiveRefusalOptions:
		return "I understand this is difficult, but we need to find a solution. The overdue period is significant. Would restructuring your EMI amount help? Or can you make a partial payment?"
	case DirectiveGenericProbe:
		return "I hear you. Let me ask, what would be the most realistic payment option for you right now? We want to work with you to resolve this."
	case DirectiveSeniorManagerIntro:
		return fmt.Sprintf("Hello %s, I'm the senior recovery manager. I've reviewed your %s account. I see your current EMI is %s. What monthly amount would be manageable for you?",
			v.CustomerName, v.LoanType, emi)
	case DirectiveNegotiationApprove:
		return fmt.Sprintf("Alright, I can approve %s as your new monthly EMI. This extends your loan to approximately %d months. This is a one-time concession. Your new EMI starts next month. Confirmed!",
			FormatRupees(v.ProposedEMI), v.NewTenureMonths)
	case DirectiveNegotiationCounter:
		return fmt.Sprintf("%s is quite low. Considering your situation, I can offer %s per month. This is the best we can do. Would this work for you?",
			FormatRupees(v.ProposedEMI), FormatRupees(v.CounterEMI))
	case DirectiveNegotiationReject:
		return fmt.Sprintf("I understand your situation. However, %s is too low to sustain the loan. The minimum I can approve is %s. This would extend your tenure but keep payments manageable. Can you commit to this?",
			FormatRupees(v.ProposedEMI), FormatRupees(v.CounterEMI))
	case DirectiveMalformedAmount:
		return malformedAmountReply
	case DirectiveOfferOutOfPhase:
		return "Payment plan changes are handled by the senior manager once the call has been escalated."
	case DirectiveNoProfile:
		return "Let me first look up the account. What's the customer's name?"
	case DirectiveCallConcluded:
		return "This call has concluded. Thank you."
	default:
		return ""
	}
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
